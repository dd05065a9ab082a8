package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climaguard/alerts/internal/alert"
	"github.com/climaguard/alerts/internal/api"
	"github.com/climaguard/alerts/internal/api/handler"
	"github.com/climaguard/alerts/internal/api/respond"
	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/cache"
	"github.com/climaguard/alerts/internal/config"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/notifications"
	"github.com/climaguard/alerts/internal/subscription"
)

const adminToken = "operator-secret"

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeSubs struct {
	mu         sync.Mutex
	byEndpoint map[string]subscription.Subscription
	userAgents []string
	removed    []string
}

func (f *fakeSubs) Upsert(_ context.Context, endpoint string, keys subscription.Keys, loc *geo.Point, ua string) (subscription.Subscription, bool, error) {
	if endpoint == "" {
		return subscription.Subscription{}, false, apperr.NewValidation("endpoint is required")
	}
	if loc == nil {
		return subscription.Subscription{}, false, apperr.NewValidation("location is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, existed := f.byEndpoint[endpoint]
	sub := subscription.Subscription{ID: "sub-" + endpoint[len(endpoint)-1:], Endpoint: endpoint, Keys: keys, Location: *loc, UserAgent: ua}
	f.byEndpoint[endpoint] = sub
	f.userAgents = append(f.userAgents, ua)
	return sub, !existed, nil
}

func (f *fakeSubs) Remove(_ context.Context, endpoint string) error {
	if endpoint == "" {
		return apperr.NewValidation("endpoint is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, endpoint)
	delete(f.byEndpoint, endpoint)
	return nil
}

type fakeAlerts struct {
	mu      sync.Mutex
	active  []alert.Alert
	byID    map[string]alert.Alert
	lookups int
	err     error
}

func (f *fakeAlerts) FindActiveNear(_ context.Context, p geo.Point) ([]alert.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	var out []alert.Alert
	for _, a := range f.active {
		if a.AffectedArea.Contains(p) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlerts) Get(_ context.Context, id string) (alert.Alert, error) {
	a, ok := f.byID[id]
	if !ok {
		return alert.Alert{}, apperr.NewNotFound("alert %s", id)
	}
	return a, nil
}

type fakeProcessor struct {
	got     []alert.Candidate
	sources []string
	ctxErrs []error
	err     error
	created bool
}

func (f *fakeProcessor) ProcessCandidate(ctx context.Context, c alert.Candidate, source string) (alert.Alert, notifications.DispatchResult, error) {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.got = append(f.got, c)
	f.sources = append(f.sources, source)
	if f.err != nil && !f.created {
		return alert.Alert{}, notifications.DispatchResult{}, f.err
	}
	a := alert.Alert{ID: "a-1", Type: c.Type, Severity: c.Severity, Title: c.Title, Message: c.Message, AffectedArea: c.Area}
	return a, notifications.DispatchResult{AlertID: a.ID, Total: 2, Successful: 1, Failed: 1}, f.err
}

type fakeDB struct{ err error }

func (f fakeDB) HealthCheck(context.Context) error { return f.err }

type fixture struct {
	subs   *fakeSubs
	alerts *fakeAlerts
	proc   *fakeProcessor
	cache  *cache.Cache
	cfg    *config.Config
	router http.Handler
}

func newFixture(t *testing.T, mutate ...func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		subs:   &fakeSubs{byEndpoint: map[string]subscription.Subscription{}},
		alerts: &fakeAlerts{byID: map[string]alert.Alert{}},
		proc:   &fakeProcessor{},
		cache:  cache.New(true, nil),
		cfg: &config.Config{
			CORSAllowOrigins: []string{"https://climaguard.app"},
			AlertsCacheTTL:   30 * time.Second,
			AdminToken:       adminToken,
			VAPIDPublicKey:   "BPublicKey",
		},
	}
	for _, m := range mutate {
		m(f)
	}
	f.router = api.NewRouter(handler.Deps{
		Subscriptions: f.subs,
		Alerts:        f.alerts,
		Processor:     f.proc,
		DB:            fakeDB{},
		Cache:         f.cache,
	}, f.cfg, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "# metrics\n")
	}))
	return f
}

func (f *fixture) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e respond.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	return e.Error.Message
}

var diamondHarbour = alert.Alert{
	ID: "a-digha", Type: alert.Heatwave, Severity: alert.High, Title: "Heat Wave Alert",
	Message: "Extreme heat warning: 36°C.", AffectedArea: geo.Circle(geo.Point{Lat: 21.64, Lng: 88.26}, 40),
	ExpiresAt: time.Date(2099, time.January, 1, 0, 0, 0, 0, time.UTC),
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

func TestSubscribe_NestedShapeCreatesThenUpdates(t *testing.T) {
	f := newFixture(t)
	body := `{"subscription":{"endpoint":"https://push.example/ep1","keys":{"p256dh":"k","auth":"a"}},"location":{"lat":21.64,"lng":88.26}}`

	rec := f.do(http.MethodPost, "/api/v1/subscriptions/subscribe", body, "User-Agent", "Firefox/130")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "Subscription saved successfully")

	rec = f.do(http.MethodPost, "/api/v1/subscriptions/subscribe", body, "User-Agent", "Firefox/131")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Subscription updated successfully")

	assert.Len(t, f.subs.byEndpoint, 1)
	assert.Equal(t, []string{"Firefox/130", "Firefox/131"}, f.subs.userAgents)
	assert.Equal(t, subscription.Keys{P256dh: "k", Auth: "a"}, f.subs.byEndpoint["https://push.example/ep1"].Keys)
}

func TestSubscribe_FlatShape(t *testing.T) {
	f := newFixture(t)
	body := `{"endpoint":"https://push.example/ep2","keys":{"p256dh":"k","auth":"a"},"location":{"lat":22.57,"lng":88.36}}`

	rec := f.do(http.MethodPost, "/api/v1/subscriptions/subscribe", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, geo.Point{Lat: 22.57, Lng: 88.36}, f.subs.byEndpoint["https://push.example/ep2"].Location)
}

func TestSubscribe_Validation(t *testing.T) {
	f := newFixture(t)
	for name, body := range map[string]string{
		"no location": `{"subscription":{"endpoint":"https://push.example/ep1"}}`,
		"no endpoint": `{"location":{"lat":1,"lng":2}}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/v1/subscriptions/subscribe", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Subscription and location are required", errorMessage(t, rec))
		})
	}

	rec := f.do(http.MethodPost, "/api/v1/subscriptions/subscribe", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.subs.byEndpoint)
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/subscriptions/unsubscribe", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Endpoint is required", errorMessage(t, rec))

	rec = f.do(http.MethodPost, "/api/v1/subscriptions/unsubscribe", `{"endpoint":"https://push.example/unknown"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"https://push.example/unknown"}, f.subs.removed)
}

func TestVAPIDPublicKey(t *testing.T) {
	rec := newFixture(t).do(http.MethodGet, "/api/v1/push/vapid-public-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"publicKey":"BPublicKey"}`, rec.Body.String())

	rec = newFixture(t, func(f *fixture) { f.cfg.VAPIDPublicKey = "" }).
		do(http.MethodGet, "/api/v1/push/vapid-public-key", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

func TestAlertsForLocation_BadCoordinates(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		query   string
		message string
	}{
		{"?lat=21.64", "Latitude and longitude are required"},
		{"?lng=88.26", "Latitude and longitude are required"},
		{"?lat=abc&lng=88.26", "Latitude and longitude must be numbers"},
		{"?lat=95&lng=88.26", "Coordinates out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := f.do(http.MethodGet, "/api/v1/alerts/location"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, errorMessage(t, rec))
		})
	}
	assert.Zero(t, f.alerts.lookups)
}

func TestAlertsForLocation_EmptyIsArray(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/alerts/location?lat=0&lng=0", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAlertsForLocation_CachedWithETag(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.alerts.active = []alert.Alert{diamondHarbour} })
	path := "/api/v1/alerts/location?lat=21.64&lng=88.26"

	rec := f.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	var got []alert.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "a-digha", got[0].ID)

	rec = f.do(http.MethodGet, path, "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))

	rec = f.do(http.MethodGet, path, "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	assert.Equal(t, 1, f.alerts.lookups)
}

func TestAlertsForLocation_CacheNeverOutlivesAlertExpiry(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC))
	expiring := diamondHarbour
	expiring.ExpiresAt = clock.Now().Add(5 * time.Second)
	f := newFixture(t, func(f *fixture) {
		f.cache = cache.New(true, clock)
		f.alerts.active = []alert.Alert{expiring}
	})
	path := "/api/v1/alerts/location?lat=21.64&lng=88.26"

	rec := f.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=5, stale-while-revalidate=2", rec.Header().Get("Cache-Control"))

	clock.Advance(20 * time.Second)
	f.alerts.mu.Lock()
	f.alerts.active = nil
	f.alerts.mu.Unlock()

	rec = f.do(http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	var got []alert.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got, "an expired alert is never served from cache")
	assert.Equal(t, 2, f.alerts.lookups)
}

func TestAlertsForLocation_StorageError(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.alerts.err = apperr.Storage("find alerts", errors.New("conn refused")) })
	rec := f.do(http.MethodGet, "/api/v1/alerts/location?lat=1&lng=1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "conn refused")
}

func TestGetAlert(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.alerts.byID["a-digha"] = diamondHarbour })

	rec := f.do(http.MethodGet, "/api/v1/alerts/a-digha", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"affectedArea":{"type":"Point","coordinates":[88.26,21.64]}`)

	rec = f.do(http.MethodGet, "/api/v1/alerts/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

const stormCandidate = `{
	"type": "storm", "severity": "extreme", "title": "Cyclone warning",
	"message": "Landfall expected tonight",
	"affectedArea": {"type": "Polygon", "coordinates": [[[88.0, 21.5], [88.5, 21.5], [88.5, 22.0], [88.0, 22.0], [88.0, 21.5]]]}
}`

func TestCreateAlert_RequiresBearer(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/alerts", stormCandidate)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/alerts", stormCandidate, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.proc.got)

	disabled := newFixture(t, func(f *fixture) { f.cfg.AdminToken = "" })
	rec = disabled.do(http.MethodPost, "/api/v1/alerts", stormCandidate, "Authorization", "Bearer ")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAlert_DispatchesAndPurgesCache(t *testing.T) {
	f := newFixture(t)
	f.cache.Set(handler.AlertsCachePrefix+"21.64:88.26", []byte(`[]`), time.Minute)

	rec := f.do(http.MethodPost, "/api/v1/alerts", stormCandidate, "Authorization", "Bearer "+adminToken)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp handler.CreateAlertResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a-1", resp.Alert.ID)
	assert.Equal(t, notifications.DispatchResult{AlertID: "a-1", Total: 2, Successful: 1, Failed: 1}, resp.Dispatch)
	assert.Empty(t, resp.DispatchError)

	require.Len(t, f.proc.got, 1)
	assert.True(t, f.proc.got[0].Area.IsPolygon())
	assert.Equal(t, []string{notifications.SourceOperator}, f.proc.sources)

	_, _, ok := f.cache.Get(handler.AlertsCachePrefix + "21.64:88.26")
	assert.False(t, ok, "new alerts must be visible to location lookups immediately")
}

func TestCreateAlert_DispatchOutlivesClientDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alerts", strings.NewReader(stormCandidate)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.proc.ctxErrs, 1)
	assert.NoError(t, f.proc.ctxErrs[0], "dispatch must not inherit the request's cancellation")
}

func TestCreateAlert_InvalidCandidate(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/alerts", `{"type":"tornado","severity":"high","title":"t","message":"m","location":{"lat":1,"lng":1},"radius":5}`,
		"Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.proc.got)
}

func TestCreateAlert_DispatchFailureStillCreated(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.proc.err = apperr.Storage("record notified", errors.New("timeout"))
		f.proc.created = true
	})
	rec := f.do(http.MethodPost, "/api/v1/alerts", stormCandidate, "Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "dispatchError")
}

func TestCreateAlert_StoreFailure(t *testing.T) {
	f := newFixture(t, func(f *fixture) { f.proc.err = apperr.Storage("insert alert", errors.New("disk full")) })
	rec := f.do(http.MethodPost, "/api/v1/alerts", stormCandidate, "Authorization", "Bearer "+adminToken)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// ---------------------------------------------------------------------------
// Meta
// ---------------------------------------------------------------------------

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/health/db", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# metrics")

	assert.NotEmpty(t, rec.Header().Get("X-Process-Time"))
}

func TestHealthDB_Unhealthy(t *testing.T) {
	router := api.NewRouter(handler.Deps{DB: fakeDB{err: errors.New("down")}}, &config.Config{}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflightAllowsPost(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodOptions, "/api/v1/subscriptions/subscribe", "",
		"Origin", "https://climaguard.app",
		"Access-Control-Request-Method", "POST",
	)
	assert.Equal(t, "https://climaguard.app", rec.Header().Get("Access-Control-Allow-Origin"))
}
