package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Zereker/wspush"
)

// request is one received message waiting to be echoed.
type request struct {
	client wspush.ClientID
	data   []byte
}

// echo collects received messages; the main loop sends them back.
type echo struct {
	mu      sync.Mutex
	pending []request
}

func (e *echo) OnConnect(id wspush.ClientID) {
	slog.Info("client connected", "client", id)
}

func (e *echo) OnDisconnect(id wspush.ClientID) {
	slog.Info("client disconnected", "client", id)
}

func (e *echo) OnMessage(id wspush.ClientID, msg wspush.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, request{client: id, data: msg.Data})
}

func (e *echo) pop() (request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return request{}, false
	}
	r := e.pending[0]
	e.pending = e.pending[1:]
	return r, true
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	config, err := wspush.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if config.Protocol == "" {
		config.Protocol = "req-rep"
	}

	handler := new(echo)
	server, err := wspush.New(append(config.Options(), wspush.HandlerOption(handler))...)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down server...")
		cancel()
	}()

	mux := http.NewServeMux()
	mux.Handle(config.Path, server)
	httpServer := &http.Server{Addr: config.Address, Handler: mux}

	go func() {
		if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("event loop error", "error", err)
		}
		_ = httpServer.Close()
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r, ok := handler.pop()
				if !ok {
					continue
				}
				// Send back binary, then text
				if err := server.Enqueue(r.client, r.data, wspush.Binary); err != nil {
					slog.Debug("echo dropped", "client", r.client, "error", err)
					continue
				}
				_ = server.Enqueue(r.client, r.data, wspush.Text)
			}
		}
	}()

	slog.Info("server start", "addr", config.Address, "path", config.Path)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
	}
}
