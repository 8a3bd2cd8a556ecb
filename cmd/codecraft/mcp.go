package main

import (
	"context"
	"io"
	"os/signal"
	"syscall"

	"github.com/nugget/codecraft/internal/buildinfo"
	"github.com/nugget/codecraft/internal/mcp"
)

// runMCP serves the tool registry over MCP on stdin/stdout. Logs go to
// stderr so they never mix with protocol traffic. There is no operator
// to confirm modifications, so those requiring confirmation are
// declined.
func runMCP(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	return mcp.NewServer(a.registry, buildinfo.Version, logger).Serve(ctx, stdin, stdout)
}
