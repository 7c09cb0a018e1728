package main

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

func TestServerRunnerStopsOnCancel(t *testing.T) {
	runner := &ServerRunner{ShutdownTimeout: 50 * time.Millisecond}
	stopCtx, stopCancel := context.WithCancel(context.Background())
	stopCancel()

	serveDone := make(chan struct{})
	var shutdownCalls atomic.Int32
	server := ManagedServer{
		Name: "http",
		Serve: func() error {
			<-serveDone
			return http.ErrServerClosed
		},
		Shutdown: func(ctx context.Context) error {
			shutdownCalls.Add(1)
			close(serveDone)
			return nil
		},
	}

	if err := runner.Run(stopCtx, server); err != nil {
		t.Fatalf("expected no server error, got %v", err)
	}
	if shutdownCalls.Load() != 1 {
		t.Fatal("expected shutdown to be called once")
	}
}

func TestServerRunnerReturnsServerError(t *testing.T) {
	runner := &ServerRunner{ShutdownTimeout: 50 * time.Millisecond}

	var shutdownCalls atomic.Int32
	server := ManagedServer{
		Name: "http",
		Serve: func() error {
			return errors.New("address already in use")
		},
		Shutdown: func(ctx context.Context) error {
			shutdownCalls.Add(1)
			return nil
		},
	}

	serverErr := runner.Run(context.Background(), server)
	if serverErr == nil || serverErr.err == nil {
		t.Fatal("expected server error")
	}
	if serverErr.name != "http" || serverErr.err.Error() != "address already in use" {
		t.Fatalf("unexpected server error %+v", serverErr)
	}
	if shutdownCalls.Load() != 1 {
		t.Fatal("expected shutdown to be called once")
	}
}

func TestServerRunnerWithoutServers(t *testing.T) {
	runner := &ServerRunner{}
	if err := runner.Run(context.Background(), ManagedServer{Name: "idle"}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
