// Command budgetchatd runs the line-oriented chat relay: a TCP listener
// speaking the name ceremony and broadcast protocol implemented by
// internal/chat, plus an optional read-only REST introspection server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"time"

	"protorelay/internal/chat"
	"protorelay/internal/httpapi"
)

// Version is stamped at release time; left as a dev placeholder otherwise.
var Version = "0.1.0-dev"

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:]) {
			return
		}
	}

	addr := flag.String("addr", ":9000", "chat relay listen address")
	apiAddr := flag.String("api-addr", ":8080", "REST API listen address (empty to disable)")
	maxLine := flag.Int("max-line", 64*1024, "maximum accepted record length in bytes")
	testUser := flag.String("test-user", "", "name for a synthetic member that announces itself every interval (empty to disable)")
	testInterval := flag.Duration("test-interval", 30*time.Second, "announcement interval for -test-user")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	setupLogging(*logLevel)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		slog.Error("listen failed", "addr", *addr, "err", err)
		os.Exit(1)
	}
	srv := chat.NewServer(ln, *maxLine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	if *testUser != "" {
		go chat.RunTestBot(ctx, srv.Room(), *testUser, *testInterval)
	}

	if *apiAddr != "" {
		api := httpapi.NewChatServer(srv)
		go func() {
			if err := api.Run(ctx, *apiAddr); err != nil {
				slog.Error("api server exited", "err", err)
			}
		}()
		slog.Info("introspection api listening", "addr", *apiAddr)
	}

	slog.Info("chat relay listening", "addr", srv.Addr())
	if err := srv.Serve(ctx); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "version":
		fmt.Printf("budgetchatd %s\n", Version)
		return true
	default:
		return false
	}
}
