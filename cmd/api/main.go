package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-facility-reservation/internal/api/handler"
	"github.com/sanosuguru/go-facility-reservation/internal/api/middleware"
	"github.com/sanosuguru/go-facility-reservation/internal/api/router"
	"github.com/sanosuguru/go-facility-reservation/internal/application"
	"github.com/sanosuguru/go-facility-reservation/internal/config"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/facility"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/transaction"
	"github.com/sanosuguru/go-facility-reservation/internal/infrastructure/memory"
	"github.com/sanosuguru/go-facility-reservation/internal/infrastructure/postgres"
	"github.com/sanosuguru/go-facility-reservation/internal/infrastructure/rabbitmq"
	redisinfra "github.com/sanosuguru/go-facility-reservation/internal/infrastructure/redis"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/logger"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/metrics"
	"github.com/sanosuguru/go-facility-reservation/internal/worker"
)

// storage は選択したストレージドライバーの各ポート実装
type storage struct {
	txManager    transaction.Manager
	reservations reservation.Repository
	history      reservation.HistoryRepository
	catalog      facility.Catalog
	members      middleware.MembershipChecker
	healthChecks []handler.HealthCheck
	close        func()
}

func main() {
	// .env は開発環境のみ。なくてもよい
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Set(logger.NewLogger(cfg.App.Env))
	defer logger.Sync()

	m := metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("ストレージの初期化に失敗", zap.Error(err))
	}
	defer store.close()

	opts := []application.Option{
		application.WithMetrics(m),
		application.WithLocation(cfg.Reservation.Location()),
		application.WithSerializeRetries(cfg.Reservation.SerializeRetries),
	}

	if cfg.Redis.Enabled {
		if client := connectRedis(cfg); client != nil {
			defer client.Close()
			opts = append(opts,
				application.WithLockManager(redisinfra.NewLockManager(client)),
				application.WithLockSettings(cfg.Reservation.LockTTL, cfg.Reservation.LockRetries, cfg.Reservation.LockRetryDelay),
				application.WithDayLookupCache(redisinfra.NewDayLookupCache(client), cfg.Reservation.DayLookupCacheTTL),
			)
			store.healthChecks = append(store.healthChecks, handler.HealthCheck{
				Name:  "redis",
				Check: func(ctx context.Context) error { return redisinfra.Ping(ctx, client) },
			})
		}
	}

	// 予約イベントの配信
	sink, closeSink := newEventSink(cfg)
	defer closeSink()
	dispatcher := worker.NewEventDispatcher(sink, cfg.Worker.DispatcherBuffer, cfg.Worker.DispatchTimeout, m)
	go dispatcher.Start(ctx)
	opts = append(opts, application.WithPublisher(dispatcher))

	recorder := application.NewHistoryRecorder(store.history, cfg.Reservation.AuditTimeout, m)
	service := application.NewReservationService(store.txManager, store.reservations, store.catalog, recorder, opts...)

	reporter := worker.NewActiveReservationReporter(store.reservations, m, cfg.Worker.GaugeReportInterval)
	go reporter.Start(ctx)

	var members middleware.MembershipChecker
	if cfg.Auth.RequireMembership {
		members = store.members
	}
	resolver := middleware.NewIdentityResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer, members)
	logDemoToken(cfg, resolver)

	e := router.New(router.Deps{
		Reservations: service,
		Resolver:     resolver,
		Metrics:      m,
		MetricsAuth:  cfg.Metrics,
		HealthChecks: store.healthChecks,
	})
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	go func() {
		logger.Info("サーバー起動",
			zap.String("port", cfg.Server.Port),
			zap.String("storage", cfg.App.StorageDriver),
			zap.String("timezone", cfg.Reservation.Timezone),
		)
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("サーバー起動エラー", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("サーバーをシャットダウンしています...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("サーバーシャットダウンエラー", zap.Error(err))
	}

	// 受付を止めてから残りのイベントを配信する
	reporter.Stop()
	dispatcher.Stop()

	logger.Info("サーバーが正常にシャットダウンしました")
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.App.StorageDriver {
	case config.StorageDriverMemory:
		return openMemory(cfg), nil
	case config.StorageDriverPostgres:
		return openPostgres(ctx, cfg)
	default:
		return nil, errors.New("不明なストレージドライバー: " + cfg.App.StorageDriver)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (*storage, error) {
	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.RunMigrations(db.DB, cfg.App.MigrationsPath); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.App.DemoTenantID != "" {
		if err := postgres.SeedDemo(ctx, db, cfg.App.DemoTenantID, cfg.App.DemoUserIDs...); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &storage{
		txManager:    postgres.NewTxManager(db),
		reservations: postgres.NewReservationRepository(db),
		history:      postgres.NewHistoryRepository(db),
		catalog:      postgres.NewFacilityRepository(db),
		members:      postgres.NewMembershipRepository(db),
		healthChecks: []handler.HealthCheck{{
			Name:  "database",
			Check: func(ctx context.Context) error { return postgres.Ping(ctx, db) },
		}},
		close: func() { db.Close() },
	}, nil
}

// openMemory はプロセス内のストアを使う。再起動でデータは消える
func openMemory(cfg *config.Config) *storage {
	store := memory.NewStore()
	tenant := cfg.App.DemoTenantID
	if tenant == "" {
		tenant = "demo"
	}
	store.SeedDemo(tenant, cfg.App.DemoUserIDs...)
	logger.Warn("メモリストアで起動します（データは保存されません）", zap.String("demo_tenant", tenant))

	return &storage{
		txManager:    store,
		reservations: store.Reservations(),
		history:      store.History(),
		catalog:      store.Catalog(),
		members:      store,
		close:        func() {},
	}
}

// connectRedis は接続できなければ nil を返し、Redisなしで動作を続ける
func connectRedis(cfg *config.Config) *goredis.Client {
	client, err := redisinfra.NewClient(&redisinfra.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Warn("Redisに接続できないため分散ロックとキャッシュを無効にします",
			zap.String("addr", cfg.Redis.Addr()),
			zap.Error(err),
		)
		return nil
	}
	logger.Info("Redis接続完了", zap.String("addr", cfg.Redis.Addr()))
	return client
}

func newEventSink(cfg *config.Config) (worker.EventSink, func()) {
	if !cfg.RabbitMQ.Enabled {
		return worker.LogSink{}, func() {}
	}
	publisher, err := rabbitmq.NewPublisher(rabbitmq.Config{URL: cfg.RabbitMQ.URL, Exchange: cfg.RabbitMQ.Exchange})
	if err != nil {
		logger.Warn("RabbitMQに接続できないため予約イベントはログ出力のみになります", zap.Error(err))
		return worker.LogSink{}, func() {}
	}
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("RabbitMQ切断エラー", zap.Error(err))
		}
	}
}

// logDemoToken は開発環境でデモ利用者のトークンを出力する
func logDemoToken(cfg *config.Config, resolver *middleware.IdentityResolver) {
	if cfg.App.Env != "development" || len(cfg.App.DemoUserIDs) == 0 {
		return
	}
	tenant := cfg.App.DemoTenantID
	if tenant == "" && cfg.App.StorageDriver == config.StorageDriverMemory {
		tenant = "demo"
	}
	if tenant == "" {
		return
	}
	token, err := resolver.Issue(tenant, cfg.App.DemoUserIDs[0], 24*time.Hour)
	if err != nil {
		logger.Warn("デモ用トークンの発行に失敗", zap.Error(err))
		return
	}
	logger.Info("デモ用トークン", zap.String("tenant_id", tenant), zap.String("user_id", cfg.App.DemoUserIDs[0]), zap.String("token", token))
}
