package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	daemon "github.com/sevlyar/go-daemon"

	"stimsync/internal/app"
	"stimsync/internal/config"
)

var (
	// Define command-line flags
	configPath = flag.String("c", "", "Path to configuration file (e.g., config.yaml). Defaults to ./config.yaml, ~/.config/stimsync/config.yaml, /etc/stimsync/config.yaml")
	logPath    = flag.String("log", "", "Path to log file (optional, defaults to stderr)")
	daemonize  = flag.Bool("d", false, "Detach and run in the background")
	pidPath    = flag.String("pid", "/tmp/stimsync.pid", "Path to PID file (daemon mode only)")
)

// setupLogging configures the log output destination.
func setupLogging(logFilePath string) (*os.File, error) {
	if logFilePath == "" {
		log.SetOutput(os.Stderr) // Default: log to standard error
		log.Println("Logging to stderr")
		return nil, nil
	}

	// Ensure the directory for the log file exists
	dir := filepath.Dir(logFilePath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	// Open the log file for appending, create if it doesn't exist
	file, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	log.SetOutput(file)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Printf("Logging to file: %s", logFilePath)
	return file, nil
}

// serve loads the configuration and runs the daemon until shutdown.
func serve() {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to create application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("FATAL: Daemon exited with error: %v", err)
	}

	log.Println("stimsync finished successfully.")
}

func main() {
	flag.Parse()

	if *daemonize {
		// The detached child inherits stdout/stderr pointed at the log
		// file, so the plain log package keeps working.
		dctx := &daemon.Context{
			PidFileName: *pidPath,
			PidFilePerm: 0644,
			LogFileName: *logPath,
			LogFilePerm: 0640,
			WorkDir:     "/",
			Umask:       027,
		}

		child, err := dctx.Reborn()
		if err != nil {
			log.Fatalf("FATAL: Failed to daemonize: %v", err)
		}
		if child != nil {
			fmt.Printf("stimsync daemon started (pid %d)\n", child.Pid)
			if *logPath == "" {
				fmt.Println("No -log given: daemon output is discarded.")
			}
			return
		}
		defer dctx.Release()

		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
		log.Printf("Daemonized (pid %d)", os.Getpid())
		serve()
		return
	}

	// Set up logging based on the -log flag
	logFile, logErr := setupLogging(*logPath)
	if logErr != nil {
		fmt.Fprintf(os.Stderr, "Error setting up file logging: %v. Logging to stderr instead.\n", logErr)
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	serve()
}
