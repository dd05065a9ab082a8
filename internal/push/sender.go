// Package push delivers Web Push notifications signed with VAPID keys.
package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/observability"
	"github.com/climaguard/alerts/internal/subscription"
)

// Options configures a Sender.
type Options struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
	TTL             time.Duration
	Timeout         time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Sender sends encrypted payloads to push services.
// Nil-safe: a nil Sender rejects every send as a provider error.
type Sender struct {
	opts    Options
	client  *http.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewSender returns nil when either VAPID key is empty.
func NewSender(opts Options, metrics *observability.Metrics, logger *slog.Logger) *Sender {
	if opts.VAPIDPublicKey == "" || opts.VAPIDPrivateKey == "" {
		return nil
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Sender{opts: opts, client: client, metrics: metrics, logger: logger}
}

// Send delivers payload to sub and returns the push service status code.
// 404 and 410 map to apperr.ErrEndpointGone; any other failure is a
// provider error.
func (s *Sender) Send(ctx context.Context, sub subscription.Subscription, payload []byte) (int, error) {
	if s == nil {
		return 0, apperr.NewProvider("push transport not configured")
	}

	start := time.Now()
	resp, err := webpush.SendNotificationWithContext(ctx, payload,
		&webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		},
		&webpush.Options{
			HTTPClient:      s.client,
			Subscriber:      strings.TrimPrefix(s.opts.Subject, "mailto:"),
			VAPIDPublicKey:  s.opts.VAPIDPublicKey,
			VAPIDPrivateKey: s.opts.VAPIDPrivateKey,
			TTL:             int(s.opts.TTL / time.Second),
			Urgency:         webpush.UrgencyHigh,
		})
	s.metrics.ProviderAPIDuration.WithLabelValues("push").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return 0, apperr.Provider("push timeout", err)
		}
		return 0, apperr.Provider("push request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return resp.StatusCode, apperr.NewEndpointGone("push service returned %d for %s", resp.StatusCode, redact(sub.Endpoint))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return resp.StatusCode, apperr.NewProvider("push service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// GenerateVAPIDKeys returns a new base64url key pair.
func GenerateVAPIDKeys() (privateKey, publicKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return privateKey, publicKey, nil
}

// redact trims an endpoint to its origin for logs; the path is a bearer
// capability.
func redact(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		if j := strings.IndexByte(endpoint[i+3:], '/'); j >= 0 {
			return endpoint[:i+3+j] + "/…"
		}
	}
	return endpoint
}
