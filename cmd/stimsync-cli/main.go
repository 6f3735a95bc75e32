package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stimsync/internal/ipc"
	"stimsync/internal/link"
	"stimsync/internal/peer"
	"stimsync/internal/settings"

	sqlitejournal "stimsync/internal/journal/sqlite"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	socketPath  string
	journalPath string
)

var rootCmd = &cobra.Command{
	Use:   "stimsync-cli",
	Short: "CLI tool to interact with the stimsync daemon",
	Long:  `A command-line interface to send commands (signals, settings, status queries) to the running stimsync daemon via its Unix socket, plus bench utilities for exercising a trigger link without the daemon.`,
}

// --- Client Helper Function ---
func sendCommand(cmd ipc.Command) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		log.Fatalf("Error connecting to daemon socket (%s): %v\nIs the stimsync daemon running?", socketPath, err)
	}
	defer conn.Close()

	// Set deadlines
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) // For response

	encoder := json.NewEncoder(conn)
	decoder := json.NewDecoder(conn)

	// Send command
	if err := encoder.Encode(cmd); err != nil {
		log.Fatalf("Error sending command: %v", err)
	}

	// Receive response
	var resp ipc.Response
	if err := decoder.Decode(&resp); err != nil {
		log.Fatalf("Error receiving response: %v", err)
	}

	// Print response
	if resp.Success {
		fmt.Println("Success:", resp.Message)
		if resp.Data != nil {
			// Pretty print JSON data if available
			prettyData, err := json.MarshalIndent(resp.Data, "", "  ")
			if err == nil {
				fmt.Println("Data:")
				fmt.Println(string(prettyData))
			} else {
				fmt.Println("Data (raw):", resp.Data)
			}
		}
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", resp.Message)
		os.Exit(1) // Exit with error code if command failed server-side
	}
}

// --- Command Definitions ---

// Ping Command
var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the stimsync daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdPing})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Get the current status from the daemon (signals, counters, pending settings)",
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{Name: ipc.CmdGetStatus})
	},
}

// Signal Command Group
var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Set or clear coordination signals on the daemon",
}

var signalSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Set a signal (stop, experiment_start, is_saving, hardware_triggered, is_waiting)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{
			Name: ipc.CmdSetSignal,
			Args: ipc.SignalArgs{Name: args[0]},
		})
	},
}

var signalClearCmd = &cobra.Command{
	Use:   "clear <name>",
	Short: "Clear a signal (stop, experiment_start, is_saving, hardware_triggered, is_waiting)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sendCommand(ipc.Command{
			Name: ipc.CmdClearSignal,
			Args: ipc.SignalArgs{Name: args[0]},
		})
	},
}

// Settings Command Group
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage the lightsheet settings queued for the next trigger",
}

var settingsPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push a YAML settings file to the daemon (latest push wins)",
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")

		if file == "" {
			log.Fatal("Error: --file flag is required")
		}

		raw, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Error reading settings file: %v", err)
		}
		var values map[string]any
		if err := yaml.Unmarshal(raw, &values); err != nil {
			log.Fatalf("Error parsing settings file %s: %v", file, err)
		}
		if len(values) == 0 {
			log.Fatalf("Error: settings file %s holds no keys", file)
		}

		sendCommand(ipc.Command{
			Name: ipc.CmdPushSettings,
			Args: ipc.PushSettingsArgs{Settings: values},
		})
	},
}

// Trigger Command: one-shot exchange against a peer, bypassing the daemon.
var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Send a single trigger to a peer and print the returned duration",
	Run: func(cmd *cobra.Command, args []string) {
		address, _ := cmd.Flags().GetString("address")
		file, _ := cmd.Flags().GetString("file")
		inline, _ := cmd.Flags().GetString("json")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		values := map[string]any{}
		if file != "" {
			raw, err := os.ReadFile(file)
			if err != nil {
				log.Fatalf("Error reading settings file: %v", err)
			}
			if err := yaml.Unmarshal(raw, &values); err != nil {
				log.Fatalf("Error parsing settings file %s: %v", file, err)
			}
		}
		if inline != "" {
			// Unmarshalling into the same map overlays file keys.
			if err := json.Unmarshal([]byte(inline), &values); err != nil {
				log.Fatalf("Error parsing --json payload: %v", err)
			}
		}

		lnk := link.NewTCP(address)
		if timeout > 0 {
			lnk.Timeout = timeout
		}

		duration, ok := lnk.SendTriggerAndAwaitDuration(settings.NewRequest(values))
		if !ok {
			fmt.Fprintln(os.Stderr, "No duration received (peer absent, silent or reply unusable).")
			os.Exit(1)
		}
		fmt.Printf("duration: %g\n", duration)
	},
}

// Peer Command: run a stand-in peer for bench tests.
var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Run a stand-in stimulus peer that answers trigger requests",
	Run: func(cmd *cobra.Command, args []string) {
		listen, _ := cmd.Flags().GetString("listen")
		duration, _ := cmd.Flags().GetFloat64("duration")
		bare, _ := cmd.Flags().GetBool("bare")
		delay, _ := cmd.Flags().GetDuration("delay")
		silent, _ := cmd.Flags().GetBool("silent")

		sim := &peer.Simulator{
			Duration: duration,
			Bare:     bare,
			Delay:    delay,
			Silent:   silent,
			Verbose:  true,
		}
		if err := sim.Listen(listen); err != nil {
			log.Fatalf("Error: failed to listen on %s: %v", listen, err)
		}
		defer sim.Close()
		fmt.Printf("Peer simulator listening on %s (duration %g)\n", sim.Addr(), duration)
		fmt.Println("Press Ctrl-C to stop.")

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		fmt.Printf("\nStopping peer simulator (%d connections served).\n", sim.Accepted())
	},
}

// Journal Command Group: reads the cycle journal directly, no daemon needed.
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the trigger cycle journal database",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if journalPath == "" {
			log.Fatal("Error: --db flag is required")
		}
		if _, err := os.Stat(journalPath); os.IsNotExist(err) {
			log.Fatalf("Error: journal database not found at %s. Run the daemon with journal_path set, or pass --db.", journalPath)
		} else if err != nil {
			log.Fatalf("Error accessing journal database %s: %v", journalPath, err)
		}
	},
}

var journalRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent trigger cycle entries, newest first",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		store := sqlitejournal.New(journalPath)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.Init(ctx); err != nil {
			log.Fatalf("Failed to open journal database: %v", err)
		}
		defer store.Close()

		entries, err := store.Recent(ctx, limit)
		if err != nil {
			log.Fatalf("Failed to read journal: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("Journal is empty.")
			return
		}
		for _, e := range entries {
			fmt.Printf("%6d  %s  %-22s %5dms\n",
				e.ID, e.Timestamp.Format(time.RFC3339), e.Outcome, e.LatencyMS)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", ipc.SocketPath, "Path to the daemon control socket")

	// --- Signal Commands ---
	signalCmd.AddCommand(signalSetCmd)
	signalCmd.AddCommand(signalClearCmd)
	rootCmd.AddCommand(signalCmd)

	// --- Settings Commands ---
	settingsPushCmd.Flags().StringP("file", "f", "", "YAML file with the settings to queue (required)")
	settingsPushCmd.MarkFlagRequired("file")
	settingsCmd.AddCommand(settingsPushCmd)
	rootCmd.AddCommand(settingsCmd)

	// --- Trigger Command ---
	triggerCmd.Flags().StringP("address", "a", "127.0.0.1:5555", "Peer address to send the trigger to")
	triggerCmd.Flags().StringP("file", "f", "", "Optional YAML file with settings to embed in the request")
	triggerCmd.Flags().String("json", "", "Inline JSON settings payload (overlays file keys)")
	triggerCmd.Flags().DurationP("timeout", "t", link.ReplyTimeout, "How long to wait for the reply")
	rootCmd.AddCommand(triggerCmd)

	// --- Peer Command ---
	peerCmd.Flags().StringP("listen", "l", "127.0.0.1:5555", "Address to listen on (port 0 picks an ephemeral port)")
	peerCmd.Flags().Float64P("duration", "d", 2.5, "Duration value to reply with")
	peerCmd.Flags().Bool("bare", false, "Reply with a bare number instead of a JSON object")
	peerCmd.Flags().Duration("delay", 0, "Wait this long before replying")
	peerCmd.Flags().Bool("silent", false, "Accept requests but never reply")
	rootCmd.AddCommand(peerCmd)

	// --- Journal Commands ---
	journalCmd.PersistentFlags().StringVar(&journalPath, "db", "", "Path to the cycle journal database file (required)")
	journalRecentCmd.Flags().IntP("limit", "n", 20, "Maximum number of entries to show")
	journalCmd.AddCommand(journalRecentCmd)
	rootCmd.AddCommand(journalCmd)

	// --- Other Commands ---
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)

	// --- Execute ---
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}
