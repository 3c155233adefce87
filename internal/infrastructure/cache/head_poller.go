package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/asakaida/fieldshift/internal/repositories"
)

// HeadPoller detects schema head changes by polling the repository. It serves
// stores without a notification channel such as SQLite.
type HeadPoller struct {
	schemas  repositories.SchemaRepository
	interval time.Duration
	onChange HeadHandler
	logger   *log.Logger

	mu      sync.Mutex
	heads   map[string]int
	primed  bool
	stopCh  chan struct{}
	stopped bool
	done    chan struct{}
}

// NewHeadPoller creates a HeadPoller
func NewHeadPoller(schemas repositories.SchemaRepository, interval time.Duration, onChange HeadHandler, logger *log.Logger) *HeadPoller {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HeadPoller{
		schemas:  schemas,
		interval: interval,
		onChange: onChange,
		logger:   logger.WithPrefix("head-poller"),
		heads:    make(map[string]int),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start records the current heads and polls in the background. Heads that
// exist at start are not reported.
func (p *HeadPoller) Start(ctx context.Context) error {
	if _, err := p.Poll(ctx); err != nil {
		close(p.done)
		return err
	}

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				changed, err := p.Poll(ctx)
				if err != nil {
					p.logger.Warn("failed to poll schema heads", "err", err)
					continue
				}
				for _, name := range changed {
					p.onChange(ctx, name)
				}
			}
		}
	}()
	return nil
}

// Poll reads every lineage head once and returns the names whose head moved
// or disappeared since the previous poll
func (p *HeadPoller) Poll(ctx context.Context) ([]string, error) {
	names, err := p.schemas.ListNames(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]int, len(names))
	for _, name := range names {
		head, err := p.schemas.GetLatestVersion(ctx, name)
		if err != nil {
			return nil, err
		}
		current[name] = head.Version
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var changed []string
	for name, version := range current {
		if p.primed && p.heads[name] != version {
			changed = append(changed, name)
		}
	}
	for name := range p.heads {
		if _, ok := current[name]; !ok {
			changed = append(changed, name)
		}
	}
	p.heads = current
	p.primed = true
	slices.Sort(changed)
	return changed, nil
}

// Stop stops polling and waits for the background loop to exit
func (p *HeadPoller) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	p.mu.Unlock()

	<-p.done
	return nil
}
