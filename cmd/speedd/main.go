// Command speedd runs the speed-enforcement daemon: a length-prefixed
// binary-protocol listener speaking the camera/dispatcher wire schema
// implemented by internal/frameproto and internal/speed, backed by a
// SQLite ticket ledger, plus an optional read-only REST introspection
// server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"

	"protorelay/internal/httpapi"
	"protorelay/internal/speed"
	"protorelay/internal/store"
)

// Version is stamped at release time; left as a dev placeholder otherwise.
var Version = "0.1.0-dev"

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:]) {
			return
		}
	}

	addr := flag.String("addr", ":9001", "camera/dispatcher listen address")
	apiAddr := flag.String("api-addr", ":8081", "REST API listen address (empty to disable)")
	dbPath := flag.String("db", "speedd.db", "SQLite ticket ledger path")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	setupLogging(*logLevel)

	st, err := store.Open(*dbPath)
	if err != nil {
		slog.Error("store open failed", "path", *dbPath, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		slog.Error("listen failed", "addr", *addr, "err", err)
		os.Exit(1)
	}

	coordinator := speed.NewCoordinator(st)
	srv := speed.NewServer(ln, coordinator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	if *apiAddr != "" {
		api := httpapi.NewSpeedServer(st)
		go func() {
			if err := api.Run(ctx, *apiAddr); err != nil {
				slog.Error("api server exited", "err", err)
			}
		}()
		slog.Info("introspection api listening", "addr", *apiAddr)
	}

	slog.Info("speed daemon listening", "addr", srv.Addr(), "db", *dbPath)
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
		fmt.Printf("speedd %s\n", Version)
		return true
	case "status":
		return cliStatus(args[1:])
	default:
		return false
	}
}

func cliStatus(args []string) bool {
	dbPath := "speedd.db"
	if len(args) > 0 {
		dbPath = args[0]
	}
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	roads, err := st.Roads(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Roads with tickets: %d\n", len(roads))
	fmt.Printf("Version: %s\n", Version)
	return true
}
