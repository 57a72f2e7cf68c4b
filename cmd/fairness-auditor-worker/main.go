package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/fairdice-platform/internal/fairness-auditor/consumer"
	"github.com/radieske/fairdice-platform/internal/payout"
	"github.com/radieske/fairdice-platform/internal/shared/config"
	"github.com/radieske/fairdice-platform/internal/shared/kafka"
	"github.com/radieske/fairdice-platform/internal/shared/logger"
	"github.com/radieske/fairdice-platform/internal/shared/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.KafkaBrokers == "" {
		log.Fatal("KAFKA_BROKERS is required for the auditor")
	}
	limits, err := cfg.Game.Limits()
	if err != nil {
		log.Fatal("game limits", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Consumer group próprio: cada aposta resolvida é recalculada de forma independente
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicBetResolved, "fairness-auditor")
	defer reader.Close()
	dlq := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetResolvedDLQ)
	defer dlq.Close()

	// Métricas Prometheus da auditoria
	verified := prometheus.NewCounter(prometheus.CounterOpts{Name: "auditor_verified_total", Help: "apostas conferidas sem divergência"})
	mismatched := prometheus.NewCounter(prometheus.CounterOpts{Name: "auditor_mismatch_total", Help: "apostas com resultado divergente"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "auditor_errors_total", Help: "erros por estágio"}, []string{"stage"})
	prometheus.MustRegister(verified, mismatched, errorsBy)

	auditor := consumer.Auditor{Params: payout.Params{
		HouseEdgeBps: cfg.Game.HouseEdgeBps,
		MaxProfit:    limits.MaxProfit,
	}}
	proc := consumer.NewProcessor(log, auditor, reader, dlq, consumer.Hooks{
		OnVerified: func() { verified.Inc() },
		OnMismatch: func() { mismatched.Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	})

	metricsSrv := metrics.NewServer(cfg.MetricsPort)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("server", "metrics"), zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(sctx)
	})

	log.Info("fairness-auditor-worker started",
		zap.String("topic", cfg.TopicBetResolved),
		zap.String("dlq", cfg.TopicBetResolvedDLQ))

	if err := g.Wait(); err != nil {
		log.Error("fairness-auditor-worker stopped with error", zap.Error(err))
		return
	}
	log.Info("fairness-auditor-worker stopped")
}
