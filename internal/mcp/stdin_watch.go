package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/GeraldRistow/opcua-browser/internal/logging"
)

// DefaultParentPoll is how often WatchParent checks the parent process.
const DefaultParentPoll = 2 * time.Second

// WatchParent calls cancelFn once the parent process is gone, so a client
// that dies without closing stdin does not leave the server running.
//
// It must not read stdin: the stdio transport owns it.
func WatchParent(ctx context.Context, poll time.Duration, cancelFn context.CancelFunc) {
	if poll <= 0 {
		poll = DefaultParentPoll
	}
	ppid := os.Getppid()
	log := logging.New("mcp")
	go func() {
		t := time.NewTicker(poll)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if os.Getppid() != ppid {
					log.Warn("parent process exited, shutting down", slog.Int("parent_pid", ppid))
					cancelFn()
					return
				}
			}
		}
	}()
}
