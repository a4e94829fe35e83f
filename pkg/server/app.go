package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	applogger "CoinPull/pkg/logger"
)

// Loop is a background loop that runs until stopped.
type Loop interface {
	Start(ctx context.Context)
	Stop()
}

// Consumer is a message consumer with its own worker pool.
type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HTTPServer is the externally facing listener.
type HTTPServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// App owns the process lifecycle: start everything, wait for a signal, stop in reverse order.
type App struct {
	log             *applogger.Logger
	scheduler       Loop
	sweeper         Loop
	consumer        Consumer
	http            HTTPServer
	shutdownTimeout time.Duration
}

// Option configures App.
type Option func(*App)

// WithScheduler enables the proactive refresh loop.
func WithScheduler(l Loop) Option {
	return func(a *App) { a.scheduler = l }
}

// WithSweeper enables the cache sweep loop.
func WithSweeper(l Loop) Option {
	return func(a *App) { a.sweeper = l }
}

// WithConsumer enables the replica relay consumer.
func WithConsumer(c Consumer) Option {
	return func(a *App) { a.consumer = c }
}

// WithShutdownTimeout bounds how long shutdown may take.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

// New creates a new App instance.
func New(l *applogger.Logger, srv HTTPServer, opts ...Option) *App {
	a := &App{log: l, http: srv, shutdownTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the application and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.sweeper != nil {
		a.sweeper.Start(runCtx)
		a.log.Info("cache sweeper started")
	}
	if a.scheduler != nil {
		a.scheduler.Start(runCtx)
		a.log.Info("price scheduler started")
	}
	if a.consumer != nil {
		if err := a.consumer.Start(runCtx); err != nil {
			a.stopLoops()
			return fmt.Errorf("start relay consumer: %w", err)
		}
	}
	if err := a.http.Start(); err != nil {
		a.stopConsumer()
		a.stopLoops()
		return fmt.Errorf("start http server: %w", err)
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown()
}

// shutdown stops components in reverse start order.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.http.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if err := a.stopConsumerCtx(ctx); err != nil {
		errs = append(errs, err)
	}
	a.stopLoops()

	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) stopConsumer() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	_ = a.stopConsumerCtx(ctx)
}

func (a *App) stopConsumerCtx(ctx context.Context) error {
	if a.consumer == nil {
		return nil
	}
	if err := a.consumer.Stop(ctx); err != nil {
		a.log.Warn("kafka consumer stop error", applogger.Error(err))
		return err
	}
	return nil
}

func (a *App) stopLoops() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
}
