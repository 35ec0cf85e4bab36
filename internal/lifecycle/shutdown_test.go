package lifecycle

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"testing"
	"time"
)

func TestServeHTTPStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	srv := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeHTTP(ctx, srv, slog.New(slog.DiscardHandler))
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ServeHTTP: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServeHTTP did not return after cancel")
	}
}

func TestServeHTTPReportsListenError(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1", Handler: http.NotFoundHandler()}
	if err := ServeHTTP(context.Background(), srv, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("expected listen error")
	}
}

func TestTerminationSignalsIncludeInterrupt(t *testing.T) {
	if len(TerminationSignals()) == 0 {
		t.Fatal("expected at least one termination signal")
	}
}
