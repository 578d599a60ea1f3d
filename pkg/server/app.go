package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	domrepo "RegimePull/internal/domain/repository"
	"RegimePull/internal/usecase"
	pkgch "RegimePull/pkg/clickhouse"
	"RegimePull/pkg/config"
	xhttp "RegimePull/pkg/http"
	pkgkafka "RegimePull/pkg/kafka"
	applogger "RegimePull/pkg/logger"
)

// App encapsulates the application lifecycle: restore, start, block, drain.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	collector   *usecase.BarCollector
	proc        *usecase.BarProcessor
	consumer    *pkgkafka.Consumer
	kh          pkgkafka.MessageHandler
	chClient    *pkgch.Client
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	collector *usecase.BarCollector,
	proc *usecase.BarProcessor,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:       cfg,
		log:       log,
		collector: collector,
		proc:      proc,
		consumer:  consumer,
		kh:        kh,
		chClient:  chClient,
	}
}

// SetHTTPHandler injects the HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// rebuild every configured track from stored history before accepting
	// live bars, so restart continues exactly where the last run stopped
	instruments := make([]string, 0, len(a.cfg.Instruments))
	tfSet := make(map[domrepo.Timeframe]struct{})
	for _, inst := range a.cfg.Instruments {
		instruments = append(instruments, inst.ID)
		tfSet[domrepo.Timeframe(inst.Timeframe)] = struct{}{}
	}
	tfs := make([]domrepo.Timeframe, 0, len(tfSet))
	for tf := range tfSet {
		tfs = append(tfs, tf)
	}
	if err := a.proc.Restore(ctx, instruments, tfs); err != nil {
		a.log.Error("history restore failed", applogger.Error(err))
		return err
	}

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.log),
	)

	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				a.log.Error("feed collector error", applogger.Error(err))
			}
		}()
		a.log.Info("feed collector started", applogger.Int("instruments", len(a.cfg.Instruments)))
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.proc != nil {
		a.proc.Close()
	}

	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
