// Command alertctl is the ClimaGuard operator CLI.
//
// Usage:
//
//	alertctl migrate
//	alertctl tick
//	alertctl evaluate --lat 21.64 --lng 88.26
//	alertctl vapid generate
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/climaguard/alerts/internal/app"
	"github.com/climaguard/alerts/internal/config"
	"github.com/climaguard/alerts/internal/db"
	"github.com/climaguard/alerts/internal/geo"
	"github.com/climaguard/alerts/internal/observability"
	"github.com/climaguard/alerts/internal/push"
	"github.com/climaguard/alerts/internal/weather"
)

var logger = observability.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "alertctl",
		Short:        "ClimaGuard alert pipeline operator CLI",
		SilenceUsage: true,
	}
	root.SetOut(out)

	root.AddCommand(migrateCmd())
	root.AddCommand(tickCmd())
	root.AddCommand(evaluateCmd())
	root.AddCommand(vapidCmd())
	return root
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema (PostGIS indexes when GEO_INDEX=postgis)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(ctx context.Context, cfg *config.Config) error {
				start := time.Now()
				if err := db.Migrate(ctx, cfg.DatabaseURL, cfg.UsePostGIS()); err != nil {
					return err
				}
				logger.Info("Schema applied",
					"geo_index", cfg.GeoIndex,
					"duration", time.Since(start).Round(time.Millisecond))
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// tick command
// --------------------------------------------------------------------------

func tickCmd() *cobra.Command {
	var maxLocations int
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one anomaly scheduler pass over every monitored location",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConfig(func(ctx context.Context, cfg *config.Config) error {
				cfg.SchedulerEnabled = true
				if maxLocations > 0 {
					cfg.SchedulerMaxLocations = maxLocations
				}
				if err := cfg.ValidatePipeline(); err != nil {
					return err
				}

				pool, err := db.New(ctx, cfg)
				if err != nil {
					return fmt.Errorf("connect to database: %w", err)
				}
				defer pool.Close()

				deps, err := app.New(cfg, pool, nil, observability.NewMetricsForTesting(), logger)
				if err != nil {
					return err
				}
				defer deps.Close()

				result, err := deps.Scheduler.Tick(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), result.Summary())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxLocations, "max-locations", 0, "Override SCHEDULER_MAX_LOCATIONS for this pass")
	return cmd
}

// --------------------------------------------------------------------------
// evaluate command
// --------------------------------------------------------------------------

func evaluateCmd() *cobra.Command {
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Fetch the forecast for a point and print the candidates (dry run, nothing is stored or sent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := geo.Point{Lat: lat, Lng: lng}
			if err := p.Validate(); err != nil {
				return err
			}
			return withConfig(func(ctx context.Context, cfg *config.Config) error {
				if cfg.WeatherAPIKey == "" {
					return fmt.Errorf("WEATHER_API_KEY is required")
				}
				metrics := observability.NewMetricsForTesting()
				client := weather.NewClient(cfg.WeatherAPIURL, cfg.WeatherAPIKey,
					cfg.WeatherRequestsPerMinute, cfg.WeatherTimeout, metrics, logger)
				return runEvaluate(ctx, cmd.OutOrStdout(), client, p)
			})
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude")
	cmd.MarkFlagRequired("lat")
	cmd.MarkFlagRequired("lng")
	return cmd
}

type evaluation struct {
	Location   geo.Point       `json:"location"`
	Reading    weather.Reading `json:"reading"`
	Candidates []candidateView `json:"candidates"`
}

type candidateView struct {
	Type     string   `json:"type"`
	Severity string   `json:"severity"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Area     geo.Area `json:"affectedArea"`
	RadiusKm float64  `json:"radius,omitempty"`
}

func runEvaluate(ctx context.Context, out io.Writer, provider weather.Provider, p geo.Point) error {
	reading, err := provider.Forecast(ctx, p)
	if err != nil {
		return err
	}
	candidates := weather.Classify(reading, p)

	ev := evaluation{Location: p, Reading: reading, Candidates: make([]candidateView, 0, len(candidates))}
	for _, c := range candidates {
		v := candidateView{
			Type:     string(c.Type),
			Severity: string(c.Severity),
			Title:    c.Title,
			Message:  c.Message,
			Area:     c.Area,
		}
		if !c.Area.IsPolygon() {
			v.RadiusKm = c.Area.RadiusKm
		}
		ev.Candidates = append(ev.Candidates, v)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(ev)
}

// --------------------------------------------------------------------------
// vapid command
// --------------------------------------------------------------------------

func vapidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vapid",
		Short: "VAPID key management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate a VAPID key pair as .env lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
			return nil
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

// withConfig handles config loading and context cancellation.
func withConfig(fn func(ctx context.Context, cfg *config.Config) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return fn(ctx, cfg)
}
