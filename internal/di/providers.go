package di

import (
	"context"
	"fmt"
	"time"

	"RegimePull/internal/domain/repository"
	"RegimePull/internal/engine"
	"RegimePull/internal/handler/api"
	mid "RegimePull/internal/middleware"
	internalrepo "RegimePull/internal/repository"
	"RegimePull/internal/service/feed"
	"RegimePull/internal/usecase"
	pkgch "RegimePull/pkg/clickhouse"
	"RegimePull/pkg/config"
	xhttp "RegimePull/pkg/http"
	pkgkafka "RegimePull/pkg/kafka"
	applogger "RegimePull/pkg/logger"
	"RegimePull/pkg/metrics"
	"RegimePull/pkg/server"
)

// ProvideLogger creates the structured application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideEngineParams compiles the engine configuration. Load has already
// validated it; compilation re-checks and fails fast on a broken table.
func ProvideEngineParams(cfg *config.Config) (*engine.Params, error) {
	return engine.NewParams(&cfg.Engine)
}

// ProvideTracker creates the shared instrument tracker.
func ProvideTracker(p *engine.Params, l *applogger.Logger, m repository.Metrics) *engine.Tracker {
	return engine.NewTracker(p, l, m)
}

// ProvideClickHouseClient creates a ClickHouse client and initializes the
// audit and history schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithAsyncInsert(true, false),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := make([]string, 0, len(internalrepo.AuditSchema)+len(internalrepo.HistorySchema)+1)
	stmts = append(stmts, "CREATE DATABASE IF NOT EXISTS "+cfg.ClickHouse.Database)
	stmts = append(stmts, internalrepo.AuditSchema...)
	stmts = append(stmts, internalrepo.HistorySchema...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideKafkaProducer creates the snapshot producer. Hash-by-key keeps all
// snapshots of one instrument on one partition.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the bars consumer.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.BarsTopic+".dlq"),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideAuditLog creates the ClickHouse audit store.
func ProvideAuditLog(ch *pkgch.Client, l *applogger.Logger) repository.AuditLog {
	return internalrepo.NewCHAuditLog(ch, l)
}

// ProvideBarHistory creates the ClickHouse bar history store.
func ProvideBarHistory(ch *pkgch.Client) repository.BarHistory {
	return internalrepo.NewCHBarHistory(ch)
}

// ProvideSnapshotPublisher creates the Kafka snapshot publisher.
func ProvideSnapshotPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.SnapshotPublisher {
	return internalrepo.NewKafkaSnapshotPublisher(producer, cfg.Kafka.SnapshotTopic)
}

// ProvideSnapshotCache creates the Redis snapshot cache, or nil when Redis is
// disabled; the processor and query paths treat nil as cache-off.
func ProvideSnapshotCache(cfg *config.Config, l *applogger.Logger) repository.SnapshotCache {
	if !cfg.Redis.Enabled {
		return nil
	}
	cache, err := internalrepo.NewRedisSnapshotCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL)
	if err != nil {
		l.Warn("redis cache unavailable, running without it", applogger.Error(err))
		return nil
	}
	return cache
}

// ProvideBarProcessor creates the evaluation write path.
func ProvideBarProcessor(
	tracker *engine.Tracker,
	history repository.BarHistory,
	pub repository.SnapshotPublisher,
	audit repository.AuditLog,
	cache repository.SnapshotCache,
	m repository.Metrics,
) *usecase.BarProcessor {
	return usecase.NewBarProcessor(tracker, history, pub, audit, cache, m)
}

// ProvideKafkaBarsHandler registers the handler for the bars topic.
func ProvideKafkaBarsHandler(proc *usecase.BarProcessor, m repository.Metrics, cfg *config.Config) *usecase.KafkaBarsHandler {
	return usecase.NewKafkaBarsHandler(cfg.Kafka.BarsTopic, proc, m)
}

// ProvideFeedStream creates the WebSocket bar feed, or nil when disabled.
func ProvideFeedStream(cfg *config.Config) repository.BarStream {
	if !cfg.Feed.Enabled {
		return nil
	}
	instruments := make([]string, 0, len(cfg.Instruments))
	tfSet := make(map[string]struct{})
	for _, inst := range cfg.Instruments {
		instruments = append(instruments, inst.ID)
		tfSet[inst.Timeframe] = struct{}{}
	}
	tfs := make([]string, 0, len(tfSet))
	for tf := range tfSet {
		tfs = append(tfs, tf)
	}
	return feed.New(
		cfg.Feed.APIKey,
		cfg.Feed.URL,
		instruments,
		tfs,
		cfg.Feed.ReconnectDelay,
		cfg.Feed.PingInterval,
	)
}

// ProvideBarCollector creates the feed collector, or nil when no feed is
// configured (Kafka-only deployments).
func ProvideBarCollector(stream repository.BarStream, proc *usecase.BarProcessor, m repository.Metrics) *usecase.BarCollector {
	if stream == nil {
		return nil
	}
	pipe := mid.NewBarPipeline(proc, m, mid.WithBufferSize(2000))
	return usecase.NewBarCollector(stream, proc, m, pipe)
}

// ProvideSnapshotQuery creates the read path behind the HTTP API.
func ProvideSnapshotQuery(
	tracker *engine.Tracker,
	cache repository.SnapshotCache,
	audit repository.AuditLog,
	l *applogger.Logger,
) *usecase.SnapshotQuery {
	return usecase.NewSnapshotQuery(tracker, cache, audit, l)
}

// ProvideHTTPHandler creates the Echo route handler.
func ProvideHTTPHandler(l *applogger.Logger, query *usecase.SnapshotQuery) xhttp.Handler {
	return api.NewRegimeEchoHandler(l, query)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	collector *usecase.BarCollector,
	proc *usecase.BarProcessor,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaBarsHandler,
	chClient *pkgch.Client,
	httpHandler xhttp.Handler,
) *server.App {
	app := server.New(cfg, l, collector, proc, consumer, kh, chClient)
	app.SetHTTPHandler(httpHandler)
	return app
}
