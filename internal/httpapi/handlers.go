package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/Operative-001/meshchat/internal/node"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	node *node.Node
}

// NewHandler creates a Handler bound to a node.
func NewHandler(n *node.Node) *Handler {
	return &Handler{node: n}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

type sendRequest struct {
	DisplayName *string `json:"displayName"`
	Text        *string `json:"text"`
}

// Send originates a new message from this node.
//
// POST /send {"displayName": "...", "text": "..."}
// Missing fields and fields that trim to nothing are client errors; nothing
// else about the relay is surfaced here.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "missing params")
		return
	}
	if req.DisplayName == nil || req.Text == nil {
		h.Error(w, http.StatusBadRequest, "missing params")
		return
	}

	seq, err := h.node.Originate(*req.DisplayName, *req.Text)
	if err != nil {
		if errors.Is(err, node.ErrEmptyMessage) {
			h.Error(w, http.StatusBadRequest, "empty")
			return
		}
		h.Error(w, http.StatusInternalServerError, "send failed")
		return
	}
	h.JSON(w, http.StatusOK, map[string]uint32{"sequence": seq})
}

// Poll returns all retained log entries newer than the client's cursor.
//
// GET /poll?since=N — ascending sequence order; the client stores the highest
// sequence it received and supplies it next call. Entries that fell out of
// the retention window are silently unavailable.
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if s := r.URL.Query().Get("since"); s != "" {
		var err error
		since, err = strconv.ParseUint(s, 10, 32)
		if err != nil {
			h.Error(w, http.StatusBadRequest, "invalid since")
			return
		}
	}
	entries := h.node.Log().Query(uint32(since))
	h.JSON(w, http.StatusOK, entries)
}

// Status reports operator-facing node state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"nodeId":       h.node.ID(),
		"displayName":  h.node.DisplayName(),
		"peers":        h.node.PeerCount(),
		"lastSequence": h.node.LastOriginSequence(),
		"logEntries":   h.node.Log().Len(),
	})
}

// Health is a liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
