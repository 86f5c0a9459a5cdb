package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/AKPAING3147/Foood/internal/auth"
	"github.com/AKPAING3147/Foood/internal/cache"
	"github.com/AKPAING3147/Foood/internal/config"
	"github.com/AKPAING3147/Foood/internal/evidence"
	"github.com/AKPAING3147/Foood/internal/httpapi"
	"github.com/AKPAING3147/Foood/internal/order/service"
	"github.com/AKPAING3147/Foood/internal/payment"
	"github.com/AKPAING3147/Foood/internal/payment/stripeproc"
	"github.com/AKPAING3147/Foood/internal/reconcile"
	"github.com/AKPAING3147/Foood/internal/store"
	"github.com/AKPAING3147/Foood/internal/store/postgres"
	"github.com/AKPAING3147/Foood/pkg/kafka"
	"github.com/AKPAING3147/Foood/pkg/logging"
	"github.com/AKPAING3147/Foood/pkg/metrics"
	"github.com/AKPAING3147/Foood/pkg/outbox"
)

const svcName = "storefront"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Food ordering storefront: orders, payments and reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("STOREFRONT_CONFIG"), "config file path (YAML)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logging.Init(os.Stdout, logging.ParseLevel(cfg.Log.Level))
		return cfg, nil
	}

	cmd.AddCommand(serveCmd(load), migrateCmd(load), relayCmd(load), seedAdminCmd(load))
	return cmd
}

type loader func() (*config.Config, error)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, *postgres.Store, error) {
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("database.url (DATABASE_URL) is required")
	}
	pool, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return pool, postgres.New(pool, cfg.Kafka.Topic), nil
}

func serveCmd(load loader) *cobra.Command {
	var withRelay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, stop := signalContext()
			defer stop()
			return serve(ctx, cfg, withRelay)
		},
	}
	cmd.Flags().BoolVar(&withRelay, "relay", false, "also run the outbox relay in this process")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, withRelay bool) error {
	pool, pg, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx); err != nil {
		return err
	}

	var st store.Store = pg
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		st = cache.New(pg, rdb, cfg.Redis.ProductTTL, cfg.Redis.OrderTTL)
	}

	sm := metrics.NewServerMetrics("api", prometheus.DefaultRegisterer)
	payCfg := payment.Config{Currency: cfg.Stripe.Currency, Bank: cfg.Bank}

	deps := httpapi.Deps{Store: st, Metrics: sm, RequestTimeout: cfg.Server.RequestTimeout}
	if cfg.CardPaymentsEnabled() {
		sp := stripeproc.New(stripeproc.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			APIURL:        cfg.Stripe.APIURL,
		})
		deps.Payments = payment.NewManager(st, sp, payCfg, payment.WithMetrics(sm))
		deps.Webhooks = reconcile.NewHandler(sp, st, deps.Payments, sm)
	} else {
		deps.Payments = payment.NewManager(st, nil, payCfg, payment.WithMetrics(sm))
		logging.Log(logging.Fields{Level: logging.LevelWarn, Service: svcName, Step: "startup", Status: "card_disabled", Message: "STRIPE_SECRET_KEY not set; card payments are disabled"})
	}
	if cfg.Evidence.Bucket != "" {
		ev, err := evidence.NewS3(ctx, evidence.Config{
			Bucket:        cfg.Evidence.Bucket,
			Region:        cfg.Evidence.Region,
			Prefix:        cfg.Evidence.Prefix,
			Endpoint:      cfg.Evidence.Endpoint,
			PublicBaseURL: cfg.Evidence.PublicBaseURL,
		})
		if err != nil {
			return err
		}
		deps.Evidence = ev
	}
	deps.Orders = service.New(st, deps.Payments)
	deps.Auth = auth.NewService(st, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	if withRelay {
		relay, closeRelay, err := newRelay(cfg, pool)
		if err != nil {
			return err
		}
		defer closeRelay()
		go func() { _ = relay.Run(ctx) }()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           httpapi.New(deps).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Log(logging.Fields{Service: svcName, Step: "startup", Status: "listening", Message: "listening on :" + cfg.Server.Port})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	logging.Log(logging.Fields{Service: svcName, Step: "shutdown", Status: "draining"})
	return srv.Shutdown(shutdownCtx)
}

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			pool, pg, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			logging.Log(logging.Fields{Service: svcName, Step: "migrate", Status: "done"})
			return nil
		},
	}
}

func newRelay(cfg *config.Config, pool *pgxpool.Pool) (*outbox.Relay, func(), error) {
	producer, err := kafka.NewClient(cfg.Kafka.Brokers).NewProducer(cfg.Kafka.Topic)
	if err != nil {
		return nil, nil, fmt.Errorf("outbox relay needs KAFKA_BROKERS: %w", err)
	}
	relay := &outbox.Relay{
		Source:    outbox.PgSource{Pool: pool},
		Publisher: producer,
		BatchSize: cfg.Outbox.BatchSize,
		Interval:  cfg.Outbox.Interval,
	}
	return relay, func() { _ = producer.Close() }, nil
}

func relayCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish committed outbox events to Kafka",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			pool, _, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			relay, closeRelay, err := newRelay(cfg, pool)
			if err != nil {
				return err
			}
			defer closeRelay()
			logging.Log(logging.Fields{Service: "outbox-relay", Step: "startup", Status: "running", Message: "publishing to " + cfg.Kafka.Topic})
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func seedAdminCmd(load loader) *cobra.Command {
	var email, password, name string
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create or reset an admin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if email == "" || password == "" {
				return errors.New("--email and --password (or ADMIN_EMAIL and ADMIN_PASSWORD) are required")
			}
			ctx, stop := signalContext()
			defer stop()
			pool, pg, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := pg.Migrate(ctx); err != nil {
				return err
			}

			u, err := auth.NewService(pg, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).SeedAdmin(ctx, email, password, name)
			if err != nil {
				return err
			}
			logging.Log(logging.Fields{Service: svcName, UserID: u.ID, Step: "seed_admin", Status: "done", Message: u.Email})
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", os.Getenv("ADMIN_EMAIL"), "admin email")
	cmd.Flags().StringVar(&password, "password", os.Getenv("ADMIN_PASSWORD"), "admin password")
	cmd.Flags().StringVar(&name, "name", "Admin", "admin display name")
	return cmd
}
