package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Operative-001/meshchat/internal/config"
	"github.com/Operative-001/meshchat/internal/httpapi"
	"github.com/Operative-001/meshchat/internal/identity"
	"github.com/Operative-001/meshchat/internal/msglog"
	"github.com/Operative-001/meshchat/internal/node"
	"github.com/Operative-001/meshchat/internal/seen"
	"github.com/Operative-001/meshchat/internal/transport"
)

var rootCmd = &cobra.Command{
	Use:   "meshchat",
	Short: "Off-grid flood-relay chat node",
	Long: `meshchat — a battery-of-nodes chat relay.

Each node bridges local clients to a shared lossy broadcast channel.
Messages flood the mesh hop by hop: every node rebroadcasts what it has
not heard before, until the originator's TTL budget runs out.`,
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// ─── daemon ──────────────────────────────────────────────────────────────────

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the relay node (this is all you need)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.PeerListen = v
		}
		if v, _ := cmd.Flags().GetString("http"); v != "" {
			cfg.HTTPListen = v
		}
		if v, _ := cmd.Flags().GetString("data"); v != "" {
			cfg.DataDir = v
		}
		bootstrap, _ := cmd.Flags().GetStringSlice("bootstrap")

		logger := newLogger(cfg.IsDevelopment())

		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return err
		}
		profile, err := identity.Open(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open identity store: %w", err)
		}
		defer profile.Close()

		name := cfg.DisplayName
		if name == "" {
			name = profile.DisplayName()
		}
		if name == "" {
			name = fmt.Sprintf("node-%d", cfg.NodeID)
		}
		if err := profile.SetDisplayName(name); err != nil {
			return err
		}

		tr := transport.NewTCP(cfg.PeerListen)
		n, err := node.New(node.Config{
			NodeID:      cfg.NodeID,
			DisplayName: name,
			MaxHop:      cfg.MaxHop,
			Transport:   tr,
			Log:         msglog.New(cfg.LogCapacity),
			Seen:        seen.New(cfg.CacheCapacity),
			Sequences:   profile,
			Bootstrap:   bootstrap,
			JitterMin:   cfg.JitterMin,
			JitterMax:   cfg.JitterMax,
			Logger:      logger,
		})
		if err != nil {
			return err
		}

		// No transport, no node. This is non-recoverable: surface it loudly
		// and halt rather than limp along without a channel.
		if err := n.Start(); err != nil {
			logger.Fatal().Err(err).Msg("transport failed to start; node halted")
		}
		defer n.Stop()

		router := httpapi.NewRouter(logger, n)
		go func() {
			if err := httpapi.Serve(cfg.HTTPListen, router); err != nil {
				logger.Fatal().Err(err).Msg("http api failed")
			}
		}()

		logger.Info().
			Uint8("node_id", cfg.NodeID).
			Str("name", name).
			Str("peer_listen", cfg.PeerListen).
			Str("http_listen", cfg.HTTPListen).
			Uint8("max_hop", cfg.MaxHop).
			Strs("bootstrap", bootstrap).
			Msg("node up")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info().Msg("shutting down")
		return nil
	},
}

// ─── name ────────────────────────────────────────────────────────────────────

var nameCmd = &cobra.Command{
	Use:   "name <display name>",
	Short: "Set the node's persistent display name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data")
		name := strings.TrimSpace(args[0])
		if name == "" {
			return fmt.Errorf("display name is empty")
		}

		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return err
		}
		profile, err := identity.Open(dataDir)
		if err != nil {
			return err
		}
		defer profile.Close()

		if err := profile.SetDisplayName(name); err != nil {
			return err
		}
		fmt.Printf("✓ display name set to %q\n", name)
		fmt.Println("Restart the daemon for the new name to take effect.")
		return nil
	},
}

// ─── send ────────────────────────────────────────────────────────────────────

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a chat message through the local daemon",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		httpAddr, _ := cmd.Flags().GetString("http")
		dataDir, _ := cmd.Flags().GetString("data")

		profile, err := identity.Open(dataDir)
		if err != nil {
			return fmt.Errorf("open identity store: %w (is the data dir right?)", err)
		}
		name := profile.DisplayName()
		profile.Close()
		if name == "" {
			return fmt.Errorf("no display name set — run 'meshchat name <name>' first")
		}

		body, _ := json.Marshal(map[string]string{
			"displayName": name,
			"text":        strings.Join(args, " "),
		})
		resp, err := http.Post("http://"+httpAddr+"/send", "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("daemon unreachable at %s — is it running?", httpAddr)
		}
		defer resp.Body.Close()

		out, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("send rejected: %s", strings.TrimSpace(string(out)))
		}
		fmt.Printf("✓ sent: %s\n", strings.TrimSpace(string(out)))
		return nil
	},
}

// ─── status ──────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running node's status",
	RunE: func(cmd *cobra.Command, args []string) error {
		httpAddr, _ := cmd.Flags().GetString("http")

		resp, err := http.Get("http://" + httpAddr + "/status")
		if err != nil {
			return fmt.Errorf("daemon unreachable at %s — is it running?", httpAddr)
		}
		defer resp.Body.Close()

		var st struct {
			NodeID       int    `json:"nodeId"`
			DisplayName  string `json:"displayName"`
			Peers        int    `json:"peers"`
			LastSequence uint32 `json:"lastSequence"`
			LogEntries   int    `json:"logEntries"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return err
		}
		fmt.Printf("Node      : %d (%s)\n", st.NodeID, st.DisplayName)
		fmt.Printf("Peers     : %d\n", st.Peers)
		fmt.Printf("Sent      : %d messages\n", st.LastSequence)
		fmt.Printf("Log       : %d entries retained\n", st.LogEntries)
		return nil
	},
}

func defaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".meshchat")
}

func init() {
	dd := defaultDataDir()

	for _, cmd := range []*cobra.Command{daemonCmd, nameCmd, sendCmd, statusCmd} {
		cmd.Flags().String("data", dd, "Data directory (~/.meshchat)")
	}
	for _, cmd := range []*cobra.Command{daemonCmd, sendCmd, statusCmd} {
		cmd.Flags().String("http", "127.0.0.1:8080", "Client API address")
	}

	daemonCmd.Flags().String("listen", "", "TCP listen address for peer links (overrides env)")
	daemonCmd.Flags().StringSlice("bootstrap", []string{}, "Bootstrap peer addresses (host:port)")

	rootCmd.AddCommand(daemonCmd, nameCmd, sendCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
