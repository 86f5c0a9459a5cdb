package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AKPAING3147/Foood/internal/config"
	"github.com/AKPAING3147/Foood/internal/notify"
	"github.com/AKPAING3147/Foood/internal/store/postgres"
	"github.com/AKPAING3147/Foood/pkg/kafka"
	"github.com/AKPAING3147/Foood/pkg/logging"
	"github.com/AKPAING3147/Foood/pkg/metrics"
)

const svcName = "notification-service"

func main() {
	configPath := flag.String("config", os.Getenv("STOREFRONT_CONFIG"), "config file path (YAML)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config", err)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.Log.Level))
	if cfg.Database.URL == "" {
		fatal("config", errors.New("DATABASE_URL is required"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		fatal("db_connect", err)
	}
	defer pool.Close()
	pg := postgres.New(pool, cfg.Kafka.Topic)

	srvMetrics := metrics.NewServerMetrics("notification_service", prometheus.DefaultRegisterer)

	kafkaClient := kafka.NewClient(cfg.Kafka.Brokers)
	if kafkaClient.Enabled() {
		reader := kafkaClient.NewReader(cfg.Kafka.Topic, cfg.Kafka.GroupID)
		defer reader.Close()
		go func() {
			err := notify.NewProjector(pg).Consume(ctx, reader, 2*time.Second)
			if err != nil && !errors.Is(err, context.Canceled) {
				logging.Log(logging.Fields{Service: svcName, Step: "consume", Status: "stopped", Err: err})
			}
		}()
	} else {
		logging.Log(logging.Fields{Level: logging.LevelWarn, Service: svcName, Step: "startup", Status: "kafka_disabled", Message: "KAFKA_BROKERS not set; no events will be consumed"})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		code, body := http.StatusOK, `{"status":"ok"}`
		if err := pg.Ping(r.Context()); err != nil {
			code, body = http.StatusServiceUnavailable, `{"status":"db_error"}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
		srvMetrics.Observe("health", code, start)
	})
	mux.Handle("GET /metrics", metrics.Handler())

	if cfg.Notify.Port == cfg.Server.Port {
		logging.Log(logging.Fields{Level: logging.LevelWarn, Service: svcName, Step: "startup", Status: "port_shared", Message: "notify.port equals server.port; storefront serve cannot share this host"})
	}
	srv := &http.Server{Addr: ":" + cfg.Notify.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Log(logging.Fields{Service: svcName, Step: "startup", Status: "listening", Message: "listening on :" + cfg.Notify.Port})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal("http", err)
	}
}

func fatal(step string, err error) {
	logging.Log(logging.Fields{Level: logging.LevelError, Service: svcName, Step: step, Status: "fatal", Err: err})
	os.Exit(1)
}
