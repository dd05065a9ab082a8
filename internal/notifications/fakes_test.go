package notifications_test

import (
	"context"
	"errors"
	"sync"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/notifications"
	"github.com/climaguard/alerts/internal/subscription"
)

var digha = geo.Point{Lat: 21.64, Lng: 88.26}

// memRegistry is an in-memory subscription registry using the exact
// geometric test.
type memRegistry struct {
	mu        sync.Mutex
	subs      map[string]subscription.Subscription
	removeErr error
	removed   []string
	batches   [][]string
}

func newRegistry(subs ...subscription.Subscription) *memRegistry {
	r := &memRegistry{subs: map[string]subscription.Subscription{}}
	for _, s := range subs {
		r.subs[s.Endpoint] = s
	}
	return r
}

func (r *memRegistry) FindWithinArea(_ context.Context, area geo.Area) ([]subscription.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []subscription.Subscription
	for _, s := range r.subs {
		if area.Contains(s.Location) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRegistry) Remove(_ context.Context, endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removeErr != nil {
		return r.removeErr
	}
	r.removed = append(r.removed, endpoint)
	delete(r.subs, endpoint)
	return nil
}

func (r *memRegistry) RemoveMany(_ context.Context, endpoints []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, endpoints)
	n := 0
	for _, e := range endpoints {
		if _, ok := r.subs[e]; ok {
			delete(r.subs, e)
			n++
		}
	}
	return n, nil
}

func (r *memRegistry) has(endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.subs[endpoint]
	return ok
}

// recorder captures RecordNotified calls and enforces one dispatch per alert.
type recorder struct {
	mu    sync.Mutex
	calls map[string][]string
	count map[string]int
	err   error
}

func newRecorder() *recorder {
	return &recorder{calls: map[string][]string{}, count: map[string]int{}}
}

func (r *recorder) RecordNotified(_ context.Context, id string, ids []string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, done := r.calls[id]; done {
		return apperr.ErrAlreadyDispatched
	}
	r.calls[id] = ids
	r.count[id] = n
	return nil
}

func (r *recorder) DispatchStatus(_ context.Context, id string) (alert.DispatchStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, done := r.calls[id]; done {
		return alert.StatusDispatched, nil
	}
	return alert.StatusPending, nil
}

func (r *recorder) recorded(id string) ([]string, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids, ok := r.calls[id]
	return ids, r.count[id], ok
}

// pusher answers per endpoint; unknown endpoints succeed.
type pusher struct {
	mu       sync.Mutex
	behavior map[string]func(ctx context.Context) (int, error)
	sent     []string
}

func newPusher() *pusher {
	return &pusher{behavior: map[string]func(context.Context) (int, error){}}
}

func (p *pusher) on(endpoint string, fn func(ctx context.Context) (int, error)) *pusher {
	p.behavior[endpoint] = fn
	return p
}

func (p *pusher) Send(ctx context.Context, sub subscription.Subscription, _ []byte) (int, error) {
	p.mu.Lock()
	p.sent = append(p.sent, sub.Endpoint)
	fn := p.behavior[sub.Endpoint]
	p.mu.Unlock()
	if fn == nil {
		return 201, nil
	}
	return fn(ctx)
}

func (p *pusher) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func gone(context.Context) (int, error) {
	return 410, apperr.NewEndpointGone("push service returned 410")
}

func serverError(context.Context) (int, error) {
	return 500, apperr.NewProvider("push service returned 500")
}

type publisher struct {
	mu      sync.Mutex
	results []notifications.DispatchResult
}

func (p *publisher) PublishDispatched(_ context.Context, _ alert.Alert, r notifications.DispatchResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return nil
}

func sub(id, endpoint string, at geo.Point) subscription.Subscription {
	return subscription.Subscription{ID: id, Endpoint: endpoint, Location: at}
}

func heatAlert(id string) alert.Alert {
	return alert.Alert{
		ID: id, Type: alert.Heatwave, Severity: alert.High,
		Title: "Heat Wave Alert", Message: "Extreme heat (36°C) expected in your area. Stay hydrated.",
		AffectedArea: geo.Circle(digha, 40),
	}
}

var errBoom = errors.New("boom")
