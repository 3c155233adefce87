// Package cache keeps cached schema heads in step with the store across processes.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lib/pq"
)

// HeadChannel is the notification channel the schemas table trigger publishes on
const HeadChannel = "schema_head_changed"

// HeadHandler is called with the name of a lineage whose head changed
type HeadHandler func(ctx context.Context, schema string)

// Watcher reports schema head changes until stopped
type Watcher interface {
	Start(ctx context.Context) error
	Stop() error
}

// HeadWatcher receives schema head changes through PostgreSQL LISTEN/NOTIFY.
// When the connection is lost, notifications may have been missed, so resync
// is called once the listener has reconnected.
type HeadWatcher struct {
	mu       sync.Mutex
	connStr  string
	onChange HeadHandler
	resync   func(ctx context.Context)
	logger   *log.Logger
	listener *pq.Listener
	stopCh   chan struct{}
	stopped  bool
}

// NewHeadWatcher creates a HeadWatcher.
// connStr is the PostgreSQL connection string for LISTEN/NOTIFY. resync may be nil.
func NewHeadWatcher(connStr string, onChange HeadHandler, resync func(ctx context.Context), logger *log.Logger) *HeadWatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &HeadWatcher{
		connStr:  connStr,
		onChange: onChange,
		resync:   resync,
		logger:   logger.WithPrefix("head-watcher"),
		stopCh:   make(chan struct{}),
	}
}

// Start subscribes to HeadChannel and dispatches notifications in the background
func (w *HeadWatcher) Start(ctx context.Context) error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			// notifications are best effort, the listener reconnects on its own
			w.logger.Warn("listener problem", "event", ev, "err", err)
		}
	}

	w.listener = pq.NewListener(w.connStr, 10*time.Second, time.Minute, reportProblem)
	if err := w.listener.Listen(HeadChannel); err != nil {
		w.listener.Close()
		return fmt.Errorf("failed to listen on %s: %w", HeadChannel, err)
	}

	go w.handleNotifications(ctx, w.listener.Notify)
	return nil
}

// Stop stops the watcher and closes the listener connection
func (w *HeadWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()

	if w.listener != nil {
		return w.listener.Close()
	}
	return nil
}

func (w *HeadWatcher) handleNotifications(ctx context.Context, notify <-chan *pq.Notification) {
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case n, ok := <-notify:
			if !ok {
				return
			}
			w.dispatch(ctx, n)
		case <-time.After(90 * time.Second):
			// Periodic ping to keep connection alive
			go func() {
				if err := w.listener.Ping(); err != nil {
					w.logger.Warn("listener ping failed", "err", err)
				}
			}()
		}
	}
}

// dispatch handles one notification. A nil notification is sent after a reconnect.
func (w *HeadWatcher) dispatch(ctx context.Context, n *pq.Notification) {
	if n == nil {
		w.logger.Info("listener reconnected, resyncing schema heads")
		if w.resync != nil {
			w.resync(ctx)
		}
		return
	}
	if n.Extra == "" {
		return
	}
	w.logger.Debug("schema head changed", "schema", n.Extra)
	w.onChange(ctx, n.Extra)
}
