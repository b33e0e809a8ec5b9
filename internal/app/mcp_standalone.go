package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	mcpserver "mdsync/internal/mcp"
)

// ServeMCP runs mdsync as a standalone MCP server on stdin/stdout.
// It blocks until stdin closes or the process is interrupted.
func (a *App) ServeMCP() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- mcpserver.New(a.Sync, Version).ServeStdio() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.Sync.WaitRunning(context.Background())
		return nil
	}
}
