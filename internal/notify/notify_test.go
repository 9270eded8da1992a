package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"devlaunch/internal/negotiate"
	"devlaunch/internal/runtime"
)

type sent struct{ title, message string }

type recorder struct {
	mu    sync.Mutex
	items []sent
	err   error
}

func (r *recorder) send(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, sent{title, message})
	return r.err
}

func (r *recorder) snapshot() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.items...)
}

func TestNotify_Dedupes(t *testing.T) {
	rec := &recorder{err: errors.New("no dbus")}
	n := New(nil, rec.send)

	n.Ready("web", "http://localhost:8000/", "")
	n.Ready("web", "http://localhost:8000/", "")
	n.Ready("web", "", "https://a.ngrok.app")
	n.Failed("expo", errors.New("exhausted after 3 attempts"))

	assert.Equal(t, []sent{
		{"web is ready", "http://localhost:8000/"},
		{"web is public", "https://a.ngrok.app"},
		{"expo failed to start", "exhausted after 3 attempts"},
	}, rec.snapshot())
}

func TestWatch(t *testing.T) {
	rec := &recorder{}
	n := New(nil, rec.send)
	rt := runtime.New(runtime.Info{Profile: "expo"}, zap.NewNop())
	events := rt.SubscribeEvents()
	defer rt.UnsubscribeEvents(events)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watch(ctx, events, "expo", func() string { return "http://localhost:8082" })
		close(done)
	}()

	rt.ObserveResult(negotiate.State{Phase: negotiate.PhaseReady}, time.Second)
	rt.SetTunnelURL("https://x.exp.direct")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []sent{
		{"expo is ready", "http://localhost:8082"},
		{"expo is public", "https://x.exp.direct"},
	}, rec.snapshot())

	cancel()
	<-done
}

func TestWatch_Failure(t *testing.T) {
	rec := &recorder{}
	n := New(nil, rec.send)
	events := make(chan runtime.Event, 1)
	events <- runtime.Event{Type: runtime.EventTypeNegotiationFinished, Payload: map[string]any{"result": "exhausted"}}
	close(events)

	n.Watch(context.Background(), events, "web", func() string { return "" })
	assert.Equal(t, []sent{{"web failed to start", "negotiation ended exhausted"}}, rec.snapshot())
}
