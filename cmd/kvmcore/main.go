package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/onekvm-go/core/internal/config"
	"github.com/onekvm-go/core/internal/logging"
	"github.com/onekvm-go/core/internal/supervisor"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "kvmcore",
	Short: "OneKVM core agent",
	Long:  `kvmcore - IP-KVM capture, input and transport agent`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent",
	Run: func(cmd *cobra.Command, args []string) {
		runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kvmcore v%s\n", version)
	},
}

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Probe capture, audio and HID devices without starting any transport",
	Run: func(cmd *cobra.Command, args []string) {
		selftest()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/onekvm/kvmcore.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(selftestCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	logFileFallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

// runAgent loads config, builds the supervisor, starts every enabled
// transport, and serves the MJPEG-HTTP routes until the process
// receives a termination signal.
func runAgent() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)
	log.Info("starting kvmcore", "version", version, "deviceId", cfg.DeviceID)

	sup, err := supervisor.New(cfg)
	if err != nil {
		log.Error("failed to construct supervisor", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Start(ctx); err != nil {
		log.Error("failed to start supervisor", "error", err)
		os.Exit(1)
	}

	var httpServer *http.Server
	if cfg.MJPEGEnabled {
		mux := http.NewServeMux()
		sup.RegisterHTTPRoutes(mux)
		httpServer = &http.Server{Addr: cfg.MJPEGBindAddr, Handler: mux}
		go func() {
			log.Info("mjpeg http server listening", "addr", cfg.MJPEGBindAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("mjpeg http server exited", "error", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	sup.Stop()
}

// selftest loads the config and constructs the supervisor (probing
// encoders and logging any that are unavailable, but not starting any
// transport) and reports whether construction succeeded, for use during
// provisioning before enabling the service. It opens neither the capture
// device nor the HID device.
func selftest() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)

	if _, err := supervisor.New(cfg); err != nil {
		log.Error("selftest failed", "error", err)
		os.Exit(1)
	}

	log.Info("selftest passed: capture source, video pipeline and HID controller constructed cleanly")
}
