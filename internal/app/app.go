package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	osignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"

	"stimsync/internal/config"
	"stimsync/internal/coordinator"
	"stimsync/internal/ipc"
	"stimsync/internal/journal"
	journalsqlite "stimsync/internal/journal/sqlite"
	"stimsync/internal/link"
	"stimsync/internal/metrics"
	"stimsync/internal/queue"
	"stimsync/internal/signal"
	"stimsync/internal/watch"
)

// App assembles the daemon: the coordinator loop, the control socket, the
// optional settings watcher, the cycle journal and the metrics endpoint.
type App struct {
	cfg   *config.Config
	sigs  *signal.Set
	sq    *queue.Settings
	dq    *queue.Durations
	lnk   link.Link
	coord *coordinator.Coordinator
	jrnl  journal.Journal

	reg        *prometheus.Registry
	mets       *metrics.Metrics
	metricsSrv *http.Server

	// --- Socket Handling ---
	socketPath string
	listener   *net.UnixListener

	watcher *watch.Watcher

	wg     conc.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Delivery bookkeeping for the status command.
	statusMu      sync.RWMutex
	lastDuration  *float64
	durationCount int64
	lastDelivered time.Time
}

func NewApp(cfg *config.Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:        cfg,
		sigs:       signal.NewSet(),
		sq:         queue.NewSettings(),
		dq:         queue.NewDurations(),
		socketPath: cfg.SocketPath,
		ctx:        ctx,
		cancel:     cancel,
	}
	if a.socketPath == "" {
		a.socketPath = ipc.SocketPath
	}

	a.reg = prometheus.NewRegistry()
	a.mets = metrics.New(a.reg)

	// Initialize Journal
	a.jrnl = journal.Nop{}
	if cfg.JournalPath != "" {
		a.jrnl = journalsqlite.New(cfg.JournalPath)
		if err := a.jrnl.Init(ctx); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to initialize journal: %w", err)
		}
	}

	// Initialize Link
	lnk, err := link.New(cfg.EffectiveLinkName(), cfg.Link.Address)
	if err != nil {
		cancel()
		a.jrnl.Close()
		return nil, err
	}
	a.lnk = lnk

	coord, err := coordinator.New(coordinator.Deps{
		Link:              lnk,
		Settings:          a.sq,
		Durations:         a.dq,
		Stop:              a.sigs.Stop.Reader(),
		Start:             a.sigs.ExperimentStart,
		Saving:            a.sigs.IsSaving.Reader(),
		HardwareTriggered: a.sigs.HardwareTriggered.Reader(),
		Waiting:           a.sigs.IsWaiting.Reader(),
		ScanningTrigger:   cfg.ScanningTrigger,
		ConfirmTimeout:    cfg.ConfirmTimeout(),
		Journal:           a.jrnl,
		Metrics:           a.mets,
	})
	if err != nil {
		cancel()
		a.jrnl.Close()
		return nil, fmt.Errorf("failed to build coordinator: %w", err)
	}
	a.coord = coord

	if cfg.SettingsFile != "" {
		a.watcher = watch.New(cfg.SettingsFile, a.sq)
	}

	return a, nil
}

// setupSocket checks for existing socket and creates the listener
func (a *App) setupSocket() error {
	// Check if socket file exists and try connecting
	if _, err := os.Stat(a.socketPath); err == nil {
		conn, err := net.DialTimeout("unix", a.socketPath, 1*time.Second)
		if err == nil {
			// Connection successful - another instance is likely running
			conn.Close()
			return fmt.Errorf("socket %s already active, another instance might be running", a.socketPath)
		}
		// Connection failed - socket file is stale, remove it
		log.Printf("Stale socket file found at %s, removing.", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket file %s: %w", a.socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("error checking socket file %s: %w", a.socketPath, err)
	}

	addr, err := net.ResolveUnixAddr("unix", a.socketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve unix addr %s: %w", a.socketPath, err)
	}

	listener, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", a.socketPath, err)
	}

	a.listener = listener
	log.Printf("Listening for commands on %s", a.socketPath)
	return nil
}

// listenForCommands accepts connections and handles them
func (a *App) listenForCommands() {
	defer log.Println("Socket command listener stopped.")

	if a.listener == nil {
		log.Println("Error: Socket listener not initialized.")
		return
	}

	for {
		conn, err := a.listener.AcceptUnix()
		if err != nil {
			// Check if the error is due to the listener being closed
			select {
			case <-a.ctx.Done():
				log.Println("Listener closing due to context cancellation.")
				return
			default:
				log.Printf("Failed to accept connection: %v", err)
				if ne, ok := err.(net.Error); ok && !ne.Temporary() {
					log.Println("Non-temporary accept error, stopping listener.")
					return
				}
				time.Sleep(100 * time.Millisecond)
			}
			continue
		}
		a.wg.Go(func() { a.handleConnection(conn) })
	}
}

// handleConnection reads one command, processes it, and sends the response
func (a *App) handleConnection(conn *net.UnixConn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var cmd ipc.Command
	if err := decoder.Decode(&cmd); err != nil {
		if err != io.EOF {
			log.Printf("Failed to decode command: %v", err)
		}
		_ = encoder.Encode(ipc.Response{Success: false, Message: "Failed to decode command: " + err.Error()})
		return
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))

	log.Printf("Received command: %s", cmd.Name)

	response := a.processCommand(cmd)

	if err := encoder.Encode(response); err != nil {
		log.Printf("Failed to send response: %v", err)
	}
}

// processCommand routes the command to the correct handler
func (a *App) processCommand(cmd ipc.Command) ipc.Response {
	switch cmd.Name {
	case ipc.CmdPing:
		return ipc.Response{Success: true, Message: "pong"}

	case ipc.CmdSetSignal, ipc.CmdClearSignal:
		var args ipc.SignalArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		s, err := a.sigs.Lookup(args.Name)
		if err != nil {
			return ipc.Response{Success: false, Message: err.Error()}
		}
		if cmd.Name == ipc.CmdSetSignal {
			s.Set()
			return ipc.Response{Success: true, Message: fmt.Sprintf("Signal '%s' set", args.Name)}
		}
		s.Clear()
		return ipc.Response{Success: true, Message: fmt.Sprintf("Signal '%s' cleared", args.Name)}

	case ipc.CmdPushSettings:
		var args ipc.PushSettingsArgs
		if err := mapToStruct(cmd.Args, &args); err != nil {
			return ipc.Response{Success: false, Message: fmt.Sprintf("Invalid args for %s: %v", cmd.Name, err)}
		}
		if len(args.Settings) == 0 {
			return ipc.Response{Success: false, Message: "Settings payload cannot be empty"}
		}
		a.sq.Put(args.Settings)
		return ipc.Response{Success: true, Message: fmt.Sprintf("Settings queued (%d keys)", len(args.Settings))}

	case ipc.CmdGetStatus:
		return ipc.Response{Success: true, Data: a.status()}

	default:
		return ipc.Response{Success: false, Message: fmt.Sprintf("Unknown command: %s", cmd.Name)}
	}
}

func (a *App) status() ipc.StatusData {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()

	st := ipc.StatusData{
		ScanningTrigger: a.cfg.ScanningTrigger,
		Link:            a.cfg.EffectiveLinkName(),
		ConditionMet:    a.coord.ConditionMet(),
		CyclesFired:     a.coord.Fired(),
		DurationCount:   a.durationCount,
		PendingSettings: a.sq.Len(),
	}
	if a.lastDuration != nil {
		d := *a.lastDuration
		st.LastDuration = &d
	}
	if !a.lastDelivered.IsZero() {
		st.LastDeliveredAt = a.lastDelivered.Format(time.RFC3339)
	}
	for _, s := range a.sigs.All() {
		st.Signals = append(st.Signals, ipc.SignalState{Name: s.Name(), Set: s.IsSet()})
	}
	return st
}

// Helper function to convert map[string]interface{} (from json unmarshal) to struct
func mapToStruct(input interface{}, output interface{}) error {
	if input == nil {
		return nil // No args provided, might be okay for some commands
	}
	jsonBytes, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal args map: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, output); err != nil {
		return fmt.Errorf("failed to unmarshal args into struct: %w", err)
	}
	return nil
}

func (a *App) Run() error {
	defer a.cleanup()

	log.Println("Starting stimsync daemon...")
	log.Printf("Link: %s (%s), scanning trigger: %t",
		a.cfg.EffectiveLinkName(), a.cfg.Link.Address, a.cfg.ScanningTrigger)

	if err := a.setupSocket(); err != nil {
		return fmt.Errorf("failed to set up socket: %w", err)
	}

	a.handleSignals()

	// The coordinator only ever exits on the stop flag; when it does,
	// wind the rest of the daemon down with it.
	a.wg.Go(func() {
		a.coord.Run()
		a.cancel()
	})

	a.wg.Go(a.consumeDurations)
	a.wg.Go(a.listenForCommands)

	if a.watcher != nil {
		a.wg.Go(func() {
			if err := a.watcher.Run(a.ctx); err != nil {
				log.Printf("Warning: settings watcher failed: %v", err)
			}
		})
	}

	if a.cfg.MetricsAddr != "" {
		a.metricsSrv = metrics.NewServer(a.cfg.MetricsAddr, a.reg)
		a.wg.Go(func() { metrics.Serve(a.metricsSrv) })
		log.Printf("Metrics exposed on %s/metrics", a.cfg.MetricsAddr)
	}

	log.Println("stimsync daemon running. Send commands via stimsync-cli or socket.")
	<-a.ctx.Done()

	log.Println("Shutdown signal received, waiting for components...")

	// Unblock the coordinator loop in case shutdown came from elsewhere.
	a.sigs.Stop.Set()

	// Close the listener before waiting so accept() returns.
	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			log.Printf("Error closing socket listener: %v", err)
		}
	}
	if a.metricsSrv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.metricsSrv.Shutdown(shutCtx); err != nil {
			log.Printf("Error shutting down metrics server: %v", err)
		}
		shutCancel()
	}

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		log.Println("All daemon goroutines finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for daemon goroutines to stop.")
	}

	log.Println("stimsync daemon finished.")
	return nil
}

// consumeDurations drains the downstream queue, keeping the delivery
// bookkeeping the status command reports.
func (a *App) consumeDurations() {
	defer log.Println("Duration consumer stopped.")

	for {
		v, ok := a.dq.Pop(a.ctx)
		if !ok {
			return
		}
		a.statusMu.Lock()
		a.lastDuration = &v
		a.durationCount++
		a.lastDelivered = time.Now()
		a.statusMu.Unlock()
		log.Printf("Duration delivered downstream: %g", v)
	}
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	osignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v. Initiating shutdown...", sig)
		a.sigs.Stop.Set()
		a.cancel()
	}()
}

// cleanup closes the journal and removes the socket file
func (a *App) cleanup() {
	log.Println("Running cleanup...")

	if a.jrnl != nil {
		if err := a.jrnl.Close(); err != nil {
			log.Printf("Error closing journal: %v", err)
		}
	}

	// Listener is closed in Run() before wg.Wait()
	if _, err := os.Stat(a.socketPath); err == nil {
		log.Printf("Removing socket file: %s", a.socketPath)
		if err := os.Remove(a.socketPath); err != nil {
			log.Printf("Warning: Failed to remove socket file %s: %v", a.socketPath, err)
		}
	}

	log.Println("Cleanup finished.")
}
