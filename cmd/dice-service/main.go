package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/fairdice-platform/internal/dice"
	httpapi "github.com/radieske/fairdice-platform/internal/dice-service/http"
	"github.com/radieske/fairdice-platform/internal/dice-service/producer"
	"github.com/radieske/fairdice-platform/internal/dice-service/repo"
	"github.com/radieske/fairdice-platform/internal/fairness"
	"github.com/radieske/fairdice-platform/internal/feed"
	"github.com/radieske/fairdice-platform/internal/ledger"
	"github.com/radieske/fairdice-platform/internal/shared/cache"
	"github.com/radieske/fairdice-platform/internal/shared/config"
	cronrunner "github.com/radieske/fairdice-platform/internal/shared/cron"
	"github.com/radieske/fairdice-platform/internal/shared/db"
	"github.com/radieske/fairdice-platform/internal/shared/kafka"
	"github.com/radieske/fairdice-platform/internal/shared/logger"
	"github.com/radieske/fairdice-platform/internal/shared/metrics"
)

// store é o backend único do serviço: ledger, seeds e apostas no mesmo banco.
type store interface {
	ledger.Store
	fairness.SeedStore
	dice.Store
}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var checks []metrics.Check

	// Storage: Postgres em produção, memória para dev/testes locais
	var st store
	switch cfg.Storage {
	case config.StorageMemory:
		log.Warn("using in-memory storage; state is lost on restart")
		st = repo.NewMemory()
	default:
		pg, err := db.ConnectPostgres(cfg.PostgresDSN)
		if err != nil {
			log.Fatal("postgres connect", zap.Error(err))
		}
		defer pg.Close()
		if cfg.AutoMigrate {
			if err := db.Migrate(pg); err != nil {
				log.Fatal("migrate", zap.Error(err))
			}
		}
		st = repo.NewPostgres(pg)
		checks = append(checks, metrics.Check{Name: "postgres", Fn: pingDB(pg)})
	}

	limits, err := cfg.Game.Limits()
	if err != nil {
		log.Fatal("game limits", zap.Error(err))
	}
	rules := dice.Rules{
		Enabled:         cfg.Game.Enabled,
		MinBet:          limits.MinBet,
		MaxBet:          limits.MaxBet,
		HouseEdgeBps:    cfg.Game.HouseEdgeBps,
		MaxProfit:       limits.MaxProfit,
		Decimals:        cfg.Game.Decimals,
		HouseWallet:     cfg.Game.HouseWallet,
		BetTimeout:      cfg.Game.BetTimeout,
		SettleAttempts:  cfg.Game.SettleAttempts,
		SettleBackoff:   cfg.Game.SettleBackoff,
		LeaderboardSize: cfg.Game.LeaderboardSize,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Feed ao vivo: broadcaster local; com Redis, o relay replica entre instâncias
	live := feed.NewBroadcaster(cfg.Game.FeedHistory)
	var feedPub feed.Publisher = live
	var apiOpts []httpapi.Option

	if cfg.RedisAddr != "" {
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("redis connect", zap.Error(err))
		}
		defer rdb.Close()

		relay := feed.NewRedisRelay(log, rdb, cfg.RedisFeedChannel, cfg.Game.FeedHistory, live)
		feedPub = relay
		g.Go(func() error { return relay.Run(gctx) })

		apiOpts = append(apiOpts, httpapi.WithLeaderboardCache(cache.NewJSON(rdb, "dice:leaderboard:"), cfg.Game.LeaderboardTTL))
		checks = append(checks, metrics.Check{Name: "redis", Fn: pingRedis(rdb)})
	}

	svcOpts := []dice.Option{dice.WithFeed(feedPub), dice.WithHooks(registerMetrics())}

	// Eventos de domínio para o auditor (opcional)
	if cfg.KafkaBrokers != "" {
		publ := producer.NewKafkaPublisher(
			kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetPlaced),
			kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicBetResolved),
		)
		defer publ.Close()
		svcOpts = append(svcOpts, dice.WithPublisher(publ))
	}

	led := ledger.New(log, st)
	seeds := fairness.NewRegistry(log, st)
	svc := dice.NewService(log, rules, led, seeds, st, svcOpts...)
	registerGauges(svc, live)

	// Lê o caixa da casa e fecha o que ficou pela metade antes de aceitar apostas
	if err := svc.Recover(ctx); err != nil {
		log.Fatal("recover", zap.Error(err))
	}

	// Reaper periódico das apostas expiradas
	runner := cronrunner.New(log, gctx)
	if _, err := runner.Add("reaper", cfg.Game.ReaperSchedule, func(ctx context.Context) error {
		report, err := svc.ReapExpired(ctx)
		if !report.Empty() {
			log.Info("reaper pass",
				zap.Int("failed", report.Failed),
				zap.Int("completed", report.Completed),
				zap.Int("orphans_released", report.OrphansReleased))
		}
		return err
	}); err != nil {
		log.Fatal("schedule reaper", zap.Error(err))
	}
	runner.Start()
	defer runner.Stop()

	if cfg.AdminToken == "" {
		log.Warn("ADMIN_TOKEN not set; /deposit is disabled")
	}
	apiOpts = append(apiOpts, httpapi.WithAdminToken(cfg.AdminToken))
	api := httpapi.NewServer(log, svc, live, apiOpts...)

	apiSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := metrics.NewServer(cfg.MetricsPort, checks...)

	g.Go(func() error { return serve(log, "api", apiSrv) })
	g.Go(func() error { return serve(log, "metrics", metricsSrv) })

	// Shutdown gracioso: para de aceitar conexões e espera as requisições em andamento
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(apiSrv.Shutdown(sctx), metricsSrv.Shutdown(sctx))
	})

	log.Info("dice-service started",
		zap.String("http_port", cfg.HTTPPort),
		zap.String("metrics_port", cfg.MetricsPort),
		zap.String("storage", cfg.Storage))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("dice-service stopped with error", zap.Error(err))
		return
	}
	log.Info("dice-service stopped")
}

func serve(log *zap.Logger, name string, srv *http.Server) error {
	log.Info("listening", zap.String("server", name), zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// registerMetrics registra os contadores do jogo e devolve os hooks do serviço.
func registerMetrics() dice.Hooks {
	placed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dice_bets_placed_total", Help: "apostas aceitas"}, []string{"direction"})
	resolved := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dice_bets_resolved_total", Help: "apostas resolvidas por resultado"}, []string{"result"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dice_bets_failed_total", Help: "apostas que terminaram FAILED"}, []string{"reason"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{Name: "dice_settle_retries_total", Help: "novas tentativas de liquidação"})
	wagered := prometheus.NewCounter(prometheus.CounterOpts{Name: "dice_wagered_units_total", Help: "volume apostado em unidades mínimas"})
	prometheus.MustRegister(placed, resolved, failed, retries, wagered)

	return dice.Hooks{
		OnPlaced: func(direction string, amount int64) {
			placed.WithLabelValues(direction).Inc()
			wagered.Add(float64(amount))
		},
		OnResolved: func(won bool) {
			result := "loss"
			if won {
				result = "win"
			}
			resolved.WithLabelValues(result).Inc()
		},
		OnFailed:      func(reason string) { failed.WithLabelValues(reason).Inc() },
		OnSettleRetry: func() { retries.Inc() },
	}
}

// registerGauges expõe a última leitura do caixa da casa e os assinantes do feed.
func registerGauges(svc *dice.Service, live *feed.Broadcaster) {
	exposure := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "dice_house_exposure_units", Help: "lucro máximo comprometido com apostas abertas"},
		func() float64 { return float64(svc.LastBankroll().Exposure) })
	funds := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "dice_house_funds_units", Help: "caixa da casa"},
		func() float64 { return float64(svc.LastBankroll().Funds) })
	subscribers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: "dice_feed_subscribers", Help: "clientes conectados no /live"},
		func() float64 { return float64(live.Subscribers()) })
	prometheus.MustRegister(exposure, funds, subscribers)
}

func pingDB(pg *sql.DB) metrics.HealthFunc {
	return func(ctx context.Context) error { return pg.PingContext(ctx) }
}

func pingRedis(rdb *redis.Client) metrics.HealthFunc {
	return func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
}
