package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"worldbridge/internal/config"
	"worldbridge/internal/logging"
	"worldbridge/internal/metrics"
	"worldbridge/internal/tmux"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

const (
	exitOK     = 0
	exitServer = 1
	exitConfig = 2
)

const httpServerShutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Loader{Args: args, Output: stderr}.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "worldbridge: %v\n", err)
		return exitConfig
	}

	logger := logging.NewLoggerWithOutput(cfg.LogLevel, stdout)
	logger.SetObserver(func(entry logging.Entry) {
		metrics.Default.IncLogEntry(string(entry.Level))
	})

	svc, err := newServices(cfg, logger, servicesOptions{
		Metrics: metrics.Default,
		Runner:  tmux.ExecRunner(),
	})
	if err != nil {
		logger.Error("startup failed", map[string]string{
			"error": err.Error(),
		})
		return exitConfig
	}

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 2*time.Second)
	svc.checkSession(checkCtx)
	checkCancel()

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		logger.Error("listen failed", map[string]string{
			"addr":  cfg.Addr(),
			"error": err.Error(),
		})
		_ = svc.shutdown().Run(context.Background())
		return exitServer
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stopSignals := watchShutdownSignals(logger, shutdownCancel, signalCh)
	defer stopSignals()

	return serve(shutdownCtx, svc, listener)
}

func serve(ctx context.Context, svc *services, listener net.Listener) int {
	server := &http.Server{
		Handler:           svc.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logBanner(svc.logger, svc.config, listener.Addr())

	runner := &ServerRunner{Logger: svc.logger, ShutdownTimeout: httpServerShutdownTimeout}
	serverErr := runner.Run(ctx, ManagedServer{
		Name: "http",
		Serve: func() error {
			return server.Serve(listener)
		},
		Shutdown: server.Shutdown,
	})

	svc.logger.Info("shutting down", map[string]string{
		"uptime":     strings.TrimSpace(humanize.RelTime(svc.startedAt, time.Now(), "", "")),
		"broadcasts": humanize.Comma(int64(svc.hub.Seq())),
	})
	shutdownContext, cancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
	defer cancel()
	_ = svc.shutdown().Run(shutdownContext)

	if serverErr != nil && serverErr.err != nil && !errors.Is(serverErr.err, http.ErrServerClosed) {
		return exitServer
	}
	return exitOK
}

func logBanner(logger *logging.Logger, cfg config.Config, addr net.Addr) {
	port := strconv.Itoa(cfg.Port)
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	}
	base := "localhost:" + port
	logger.Info("worldbridge listening", map[string]string{
		"addr":          addr.String(),
		"visualization": "ws://" + base + "/ws/ui",
		"automation":    "ws://" + base + "/",
		"http":          "http://" + base + "/api",
		"health":        "http://" + base + "/health",
		"session":       cfg.Session,
		"capture":       strconv.FormatBool(cfg.Capture.Enabled),
	})
}
