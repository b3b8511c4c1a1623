// Ragd is a retrieval-augmented chat daemon over a PDF knowledge base.
//
// It serves the REST API by default, or the MCP tool surface over stdio when
// started with --mcp.
//
// Configuration is read from ~/.config/ragd/config.yaml (or --config), then
// RAGD_* environment variables, after loading ./.env. See internal/config.
//
// Usage:
//
//	# Start the HTTP server
//	ragd
//
//	# Serve MCP tools on stdin/stdout
//	ragd --mcp
//
//	# Override settings via environment
//	RAGD_SERVER_PORT=9090 RAGD_VECTORSTORE_PROVIDER=chromem ragd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type options struct {
	configPath string
	envFiles   []string
	mcp        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to config.yaml (default ~/.config/ragd/config.yaml)")
	flag.BoolVar(&opts.mcp, "mcp", false, "serve MCP tools over stdio instead of HTTP")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragd [--config path] [--mcp]   Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  ragd version                   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("ragd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("ragd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}
