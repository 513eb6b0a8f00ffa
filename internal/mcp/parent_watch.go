package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// WatchParent cancels the server when its parent process goes away, so an
// orphaned stdio server does not linger after the agent host exits.
//
// It must not read stdin: the SDK's StdioTransport owns it, and stealing
// bytes would corrupt the JSON-RPC stream.
func WatchParent(ctx context.Context, log *slog.Logger, cancel context.CancelFunc) {
	watchParent(ctx, log, cancel, os.Getppid, 2*time.Second)
}

func watchParent(ctx context.Context, log *slog.Logger, cancel context.CancelFunc, ppid func() int, every time.Duration) {
	start := ppid()
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if ppid() != start {
					log.Warn("parent process exited, shutting down", "was_pid", start)
					cancel()
					return
				}
			}
		}
	}()
}
