package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	config "github.com/davicafu/productregistry/internal/config"
	"github.com/davicafu/productregistry/internal/infra/db/postgres"
	"github.com/davicafu/productregistry/internal/infra/db/sqlite"
	infraEvents "github.com/davicafu/productregistry/internal/infra/events"
	productApp "github.com/davicafu/productregistry/internal/product/application"
	productDomain "github.com/davicafu/productregistry/internal/product/domain"
	productEvents "github.com/davicafu/productregistry/internal/product/infra/inbound/events"
	productHttp "github.com/davicafu/productregistry/internal/product/infra/inbound/http"
	productAnalytics "github.com/davicafu/productregistry/internal/product/infra/outbound/analytics/clickhouse"
	productCache "github.com/davicafu/productregistry/internal/product/infra/outbound/cache"
	productMongo "github.com/davicafu/productregistry/internal/product/infra/outbound/db/mongodb"
	productPostgres "github.com/davicafu/productregistry/internal/product/infra/outbound/db/postgre"
	productSQLite "github.com/davicafu/productregistry/internal/product/infra/outbound/db/sqlite"
	productFS "github.com/davicafu/productregistry/internal/product/infra/outbound/filesystem"
	sharedDomain "github.com/davicafu/productregistry/internal/shared/domain"
	sharedBus "github.com/davicafu/productregistry/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/productregistry/internal/shared/infra/platform/cache"
	"github.com/davicafu/productregistry/internal/shared/infra/relayer"
	sharedUtils "github.com/davicafu/productregistry/internal/shared/infra/utils"
	"github.com/davicafu/productregistry/pkg/logger"
)

// outboxStore reúne lo que el outbox ofrece al dispatcher y a los operadores.
type outboxStore interface {
	sharedDomain.Outbox
	sharedDomain.OutboxRepository
	sharedDomain.DeadLetterInspector
}

type stores struct {
	db       *sql.DB
	products productDomain.ProductRepository
	events   sharedDomain.EventLog
	outbox   outboxStore
	views    productDomain.ProductViewRepository
}

// ---------------- Main ----------------
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger.Init(cfg.LogLevel) // inicializa zap
	log := logger.Logger()    // obtiene logger estructurado
	defer log.Sync()          // flush buffers al salir

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---------------- DB ----------------
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open stores", zap.Error(err))
	}
	defer st.db.Close()

	if cfg.MongoURI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatal("failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Disconnect(context.Background())

		views, err := productMongo.NewProductViewRepoMongoDB(ctx, client, cfg.MongoDB)
		if err != nil {
			log.Fatal("failed to init MongoDB view store", zap.Error(err))
		}
		st.views = views
		log.Info("✅ Vistas en MongoDB", zap.String("db", cfg.MongoDB))
	}

	// ---------------- Cache ----------------
	var cacheInstance sharedCache.Cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria:", zap.Error(err))
		memCache := productCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
		defer memCache.Stop()
		cacheInstance = memCache
	} else {
		defer rdb.Close()
		cacheInstance = productCache.NewRedisCache(rdb, cfg.CacheTTL)
		log.Info("✅ Redis conectado, cache habilitado")
	}

	// --------------- Servicios --------------
	broadcaster := productApp.NewBroadcaster(cfg.BroadcastBuffer, log)
	commands := productApp.NewProductService(st.products, productApp.CommandConfig{
		Retries: cfg.CommandRetries,
		Backoff: productApp.DefaultCommandConfig.Backoff,
	}, log)
	queries := productApp.NewReadService(st.views, st.events, cacheInstance, cfg.CacheTTL, broadcaster, log)
	projection := productApp.NewProjectionDispatcher(st.views, cacheInstance, cfg.CacheTTL, broadcaster, log)
	projectionConsumer := productEvents.NewProjectionConsumer(projection, log)

	// ---------------- Events ---------------
	var wg sync.WaitGroup
	var publishers []sharedBus.EventBus
	if cfg.ProjectionSource == config.ProjectionFromOutbox {
		publishers = append(publishers, projectionConsumer)
	}

	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como bus de eventos", zap.Strings("brokers", cfg.KafkaBrokers))

		writer := &kafka.Writer{
			Addr:     kafka.TCP(cfg.KafkaBrokers...),
			Topic:    cfg.KafkaTopic,
			Balancer: &kafka.Hash{},
		}
		defer writer.Close()
		publishers = append(publishers, infraEvents.NewKafkaPublisher(writer, log))

		if cfg.ProjectionSource == config.ProjectionFromKafka {
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:  cfg.KafkaBrokers,
				Topic:    cfg.KafkaTopic,
				GroupID:  cfg.KafkaGroupID,
				MinBytes: 10e3, // 10KB
				MaxBytes: 10e6, // 10MB
			})
			defer reader.Close()

			adapter := infraEvents.NewConsumerAdapter(reader, projectionConsumer, infraEvents.ConsumerConfig{
				Topic:     cfg.KafkaTopic,
				Retries:   cfg.OutboxMaxRetries,
				Backoff:   sharedUtils.BackoffPolicy{Base: 100 * time.Millisecond, Max: 5 * time.Second},
				Retryable: productEvents.IsRetryable,
			}, log)
			wg.Add(1)
			go func() {
				defer wg.Done()
				adapter.Run(ctx)
			}()
		}
	} else {
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")

		bus := infraEvents.NewInMemoryEventBus(cfg.KafkaTopic)
		defer bus.Close()
		publishers = append(publishers, bus)

		auditLog := log.Named("audit")
		audit := auditHandler{log: auditLog}
		wg.Add(1)
		go func() {
			defer wg.Done()
			infraEvents.Listen(ctx, bus.Subscribe(256), audit, auditLog)
		}()
	}

	var analytics productDomain.EventAnalyticsRepository
	if cfg.ClickHouseAddr != "" {
		sink, err := productAnalytics.NewEventAnalyticsSink(cfg.ClickHouseAddr, cfg.ClickHouseDB)
		if err != nil {
			log.Fatal("failed to connect to ClickHouse", zap.Error(err))
		}
		defer sink.Close()
		if err := sink.InitSchema(ctx); err != nil {
			log.Fatal("failed to init ClickHouse schema", zap.Error(err))
		}
		publishers = append(publishers, sink)
		analytics = sink
		log.Info("✅ Analítica en ClickHouse habilitada")
	}

	// ------------ Outbox Worker ------------
	journal := productFS.NewJSONDeadLetterJournal(cfg.DeadLetterPath)
	worker := relayer.NewOutboxWorker(st.outbox, publishers, productDomain.NewEventRegistry(), relayer.Config{
		AggregateType: productDomain.AggregateType,
		Interval:      cfg.OutboxPeriod,
		BatchSize:     cfg.OutboxLimit,
		MaxRetries:    cfg.OutboxMaxRetries,
		Backoff:       sharedUtils.BackoffPolicy{Base: cfg.OutboxBackoffBase, Max: cfg.OutboxBackoffMax, Multiplier: 2},
		Parallelism:   cfg.OutboxParallelism,
	}, log).WithDeadLetterSink(journal)

	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// ---------------- HTTP ----------------
	router := gin.Default()
	productHttp.RegisterHealthRoute(router)
	productHttp.RegisterProductRoutes(router, productHttp.NewProductHandler(commands, queries, log))
	admin := productHttp.NewAdminHandler(st.outbox, queries, cfg.OutboxMaxRetries, log).WithJournal(journal)
	if analytics != nil {
		admin = admin.WithAnalytics(analytics)
	}
	productHttp.RegisterAdminRoutes(router, admin)

	srv := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}
	go func() {
		log.Info("🚀 Server running", zap.String("url", "http://localhost:"+cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("🛑 Apagando...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("⚠️ Cierre HTTP forzado", zap.Error(err))
	}
	wg.Wait()
	log.Info("👋 Apagado completo")
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.LocalDeployment() {
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.InitSQLite(db); err != nil {
			db.Close()
			return nil, err
		}
		if err := productSQLite.InitProductSchema(db); err != nil {
			db.Close()
			return nil, err
		}

		events := sqlite.NewEventLogRepoSQLite(db)
		outbox := sqlite.NewOutboxRepoSQLite(db, cfg.OutboxLease)
		log.Info("✅ Despliegue local sobre SQLite", zap.String("path", cfg.SQLitePath))
		return &stores{
			db:       db,
			products: productSQLite.NewProductRepoSQLite(db, events, outbox),
			events:   events,
			outbox:   outbox,
			views:    productSQLite.NewProductViewRepoSQLite(db),
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := productPostgres.InitProductSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	events := postgres.NewEventLogRepoPostgres(db)
	outbox := postgres.NewOutboxRepoPostgres(db, cfg.OutboxLease)
	log.Info("✅ Conectado a Postgres")
	return &stores{
		db:       db,
		products: productPostgres.NewProductRepoPostgres(db, events, outbox),
		events:   events,
		outbox:   outbox,
		views:    productPostgres.NewProductViewRepoPostgres(db),
	}, nil
}

// auditHandler deja constancia de cada evento entregado por el bus en memoria.
type auditHandler struct {
	log *zap.Logger
}

func (a auditHandler) HandleMessage(ctx context.Context, key string, payload []byte) error {
	var entry sharedDomain.EventLogEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return err
	}
	a.log.Debug("Evento entregado",
		zap.String("aggregate_id", entry.AggregateID.String()),
		zap.Int64("sequence", entry.AggregateVersion),
		zap.String("event_type", entry.EventType),
	)
	return nil
}
