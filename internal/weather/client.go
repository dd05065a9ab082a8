// Package weather fetches short-horizon forecasts from weatherapi.com and
// classifies them against the fixed anomaly rules.
//
// The provider is untrusted network I/O: every request is rate limited,
// bounded by a timeout and decoded into pointer fields so a partial response
// is detected instead of read as zeros.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/climaguard/alerts/internal/apperr"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/observability"
)

// forecastDays is how far ahead the provider is asked to look.
const forecastDays = 3

// Reading is the subset of a forecast the rules need.
type Reading struct {
	// Where the provider resolved the query. Informational only.
	Resolved geo.Point `json:"resolved"`
	Name     string    `json:"name,omitempty"`

	TempC   float64 `json:"tempC"`
	WindKph float64 `json:"windKph"`
	// PrecipMm is today's total precipitation. Nil when the provider sent no
	// forecast day.
	PrecipMm *float64 `json:"precipMm,omitempty"`
}

// Client is the weatherapi.com HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a weather client with rate limiting.
func NewClient(baseURL, apiKey string, requestsPerMinute int, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		metrics:    metrics,
		logger:     logger,
	}
}

// forecastResponse mirrors forecast.json. Pointers distinguish missing
// values from zero readings.
type forecastResponse struct {
	Location *struct {
		Name string   `json:"name"`
		Lat  *float64 `json:"lat"`
		Lon  *float64 `json:"lon"`
	} `json:"location"`
	Current *struct {
		TempC   *float64 `json:"temp_c"`
		WindKph *float64 `json:"wind_kph"`
	} `json:"current"`
	Forecast *struct {
		Forecastday []struct {
			Date string `json:"date"`
			Day  struct {
				TotalPrecipMm *float64 `json:"totalprecip_mm"`
			} `json:"day"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

// Forecast fetches current conditions and today's forecast for p. Every
// failure is an apperr provider error.
func (c *Client) Forecast(ctx context.Context, p geo.Point) (Reading, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Reading{}, apperr.Provider("weather rate limit wait", err)
	}

	params := url.Values{
		"key":  {c.apiKey},
		"q":    {strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)},
		"days": {strconv.Itoa(forecastDays)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/forecast.json?"+params.Encode(), nil)
	if err != nil {
		return Reading{}, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ProviderAPIDuration.WithLabelValues("weather").Observe(time.Since(start).Seconds())
	if err != nil {
		return Reading{}, apperr.Provider("weather request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reading{}, apperr.Provider("read weather response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Reading{}, apperr.NewProvider("weather API returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var fr forecastResponse
	if err := json.Unmarshal(body, &fr); err != nil {
		return Reading{}, apperr.Provider("decode weather response", err)
	}
	return fr.reading()
}

func (fr forecastResponse) reading() (Reading, error) {
	if fr.Current == nil || fr.Current.TempC == nil || fr.Current.WindKph == nil {
		return Reading{}, apperr.NewProvider("malformed weather response: missing current conditions")
	}
	r := Reading{
		TempC:   *fr.Current.TempC,
		WindKph: *fr.Current.WindKph,
	}
	if fr.Location != nil {
		r.Name = fr.Location.Name
		if fr.Location.Lat != nil && fr.Location.Lon != nil {
			r.Resolved = geo.Point{Lat: *fr.Location.Lat, Lng: *fr.Location.Lon}
		}
	}
	if fr.Forecast != nil && len(fr.Forecast.Forecastday) > 0 {
		r.PrecipMm = fr.Forecast.Forecastday[0].Day.TotalPrecipMm
	}
	return r, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
