package cache

import (
	"context"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lib/pq"

	"github.com/asakaida/fieldshift/internal/entities"
)

type recordingHandler struct {
	mu    sync.Mutex
	names []string
}

func (h *recordingHandler) handle(ctx context.Context, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names = append(h.names, name)
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.names...)
}

func TestHeadWatcher_Dispatch(t *testing.T) {
	h := &recordingHandler{}
	resyncs := 0
	w := NewHeadWatcher("", h.handle, func(context.Context) { resyncs++ }, log.New(io.Discard))
	ctx := context.Background()

	w.dispatch(ctx, &pq.Notification{Channel: HeadChannel, Extra: "article"})
	w.dispatch(ctx, &pq.Notification{Channel: HeadChannel, Extra: ""})
	w.dispatch(ctx, nil)

	if got := h.seen(); len(got) != 1 || got[0] != "article" {
		t.Errorf("expected one change for article, got %v", got)
	}
	if resyncs != 1 {
		t.Errorf("expected one resync after reconnect, got %d", resyncs)
	}
}

func TestHeadWatcher_HandleNotificationsStops(t *testing.T) {
	h := &recordingHandler{}
	w := NewHeadWatcher("", h.handle, nil, log.New(io.Discard))
	notify := make(chan *pq.Notification, 2)
	notify <- &pq.Notification{Extra: "a"}
	notify <- &pq.Notification{Extra: "b"}
	close(notify)

	done := make(chan struct{})
	go func() {
		w.handleNotifications(context.Background(), notify)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleNotifications did not return after the channel closed")
	}
	if got := h.seen(); len(got) != 2 {
		t.Errorf("expected two changes, got %v", got)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

// headRepository serves heads from a map; only the methods the poller uses are implemented
type headRepository struct {
	mu    sync.Mutex
	heads map[string]int
}

func (r *headRepository) set(name string, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version == 0 {
		delete(r.heads, name)
		return
	}
	r.heads[name] = version
}

func (r *headRepository) ListNames(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for name := range r.heads {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *headRepository) GetLatestVersion(ctx context.Context, name string) (*entities.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.heads[name]
	if !ok {
		return nil, entities.ErrSchemaNotFound
	}
	return &entities.Schema{Name: name, Version: v}, nil
}

func (r *headRepository) Create(context.Context, string, *entities.Schema, *entities.Chain) error {
	return nil
}
func (r *headRepository) GetByVersion(context.Context, string, int) (*entities.Schema, error) {
	return nil, entities.ErrSchemaNotFound
}
func (r *headRepository) ListVersions(context.Context, string) ([]*entities.SchemaVersion, error) {
	return nil, nil
}
func (r *headRepository) GetChanges(context.Context, string, int) (*entities.Chain, error) {
	return nil, entities.ErrSchemaNotFound
}
func (r *headRepository) Delete(context.Context, string) error { return nil }

func TestHeadPoller_Poll(t *testing.T) {
	repo := &headRepository{heads: map[string]int{"article": 1, "page": 3}}
	p := NewHeadPoller(repo, time.Hour, func(context.Context, string) {}, log.New(io.Discard))
	ctx := context.Background()

	changed, err := p.Poll(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(changed) != 0 {
		t.Errorf("first poll must not report existing heads, got %v", changed)
	}

	repo.set("article", 2)
	repo.set("page", 0)
	repo.set("folder", 1)

	changed, err = p.Poll(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"article", "folder", "page"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Errorf("changed[%d] = %v, want %v", i, changed[i], want[i])
		}
	}

	changed, _ = p.Poll(ctx)
	if len(changed) != 0 {
		t.Errorf("unchanged heads reported: %v", changed)
	}
}

func TestHeadPoller_StartReportsChanges(t *testing.T) {
	repo := &headRepository{heads: map[string]int{}}
	h := &recordingHandler{}
	p := NewHeadPoller(repo, 10*time.Millisecond, h.handle, log.New(io.Discard))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	repo.set("article", 1)

	deadline := time.Now().Add(2 * time.Second)
	for len(h.seen()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}

	if got := h.seen(); len(got) != 1 || got[0] != "article" {
		t.Errorf("expected one change for article, got %v", got)
	}
}
