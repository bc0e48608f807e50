// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/newslens/newslens/internal/config"
	amqpevents "github.com/newslens/newslens/internal/events/amqp"
	memoryevents "github.com/newslens/newslens/internal/events/memory"
	"github.com/newslens/newslens/internal/logging"
	"github.com/newslens/newslens/internal/pipeline"
	amqpqueue "github.com/newslens/newslens/internal/queue/amqp"
	memoryqueue "github.com/newslens/newslens/internal/queue/memory"
	memorystore "github.com/newslens/newslens/internal/store/memory"
	"github.com/newslens/newslens/internal/store/postgres"
)

// App holds the shared, long-lived services for the analysis service:
// logger, job store, queue, and the job-updates channel. It is initialized
// once at startup and closed by a Cobra hook after the command finishes.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	jobStore   pipeline.JobStore
	queue      pipeline.Queue
	publisher  pipeline.Publisher
	subscriber pipeline.Subscriber

	closers []func()
}

// Config returns the loaded service configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// JobStore returns the configured job store provider.
func (a *App) JobStore() pipeline.JobStore { return a.jobStore }

// Queue returns the job queue provider.
func (a *App) Queue() pipeline.Queue { return a.queue }

// Publisher returns the job-updates publisher.
func (a *App) Publisher() pipeline.Publisher { return a.publisher }

// Subscriber returns the job-updates subscriber.
func (a *App) Subscriber() pipeline.Subscriber { return a.subscriber }

// NewApp creates and initializes an App from the config file at cfgPath.
// Providers are chosen by configuration: Postgres and RabbitMQ when
// configured, in-memory fallbacks otherwise so the service runs standalone
// in development. It fails fast if any configured service cannot be
// reached.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a := &App{cfg: cfg, logger: logger}
	if err := a.initJobStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initQueueAndEvents(); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized")
	return a, nil
}

func (a *App) initJobStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory job store; jobs will not survive restarts")
		a.jobStore = memorystore.NewJobStore()
		return nil
	}
	a.logger.Info("connecting to postgres")
	store, err := postgres.NewJobStore(ctx, a.cfg.DB.DSN, int32(a.cfg.DB.MaxOpenConns))
	if err != nil {
		return fmt.Errorf("init job store: %w", err)
	}
	a.jobStore = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *App) initQueueAndEvents() error {
	if a.cfg.Queue.URL == "" {
		a.logger.Info("using in-memory queue and update channel")
		a.queue = memoryqueue.NewQueue(1024)
		pub := memoryevents.NewPublisher()
		a.publisher = pub
		a.subscriber = pub
		return nil
	}

	a.logger.Info("connecting to rabbitmq",
		zap.String("queue", a.cfg.Queue.JobQueue),
		zap.String("exchange", a.cfg.Queue.UpdateExchange),
	)
	q, err := amqpqueue.New(amqpqueue.Config{
		URL:       a.cfg.Queue.URL,
		QueueName: a.cfg.Queue.JobQueue,
		Prefetch:  a.cfg.Worker.Concurrency,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	a.queue = q
	a.closers = append(a.closers, func() {
		if cerr := q.Close(); cerr != nil {
			a.logger.Warn("error closing queue", zap.Error(cerr))
		}
	})

	pubConn, err := amqp.Dial(a.cfg.Queue.URL)
	if err != nil {
		return fmt.Errorf("dial amqp for publishing: %w", err)
	}
	a.closers = append(a.closers, func() {
		if cerr := pubConn.Close(); cerr != nil {
			a.logger.Warn("error closing publish connection", zap.Error(cerr))
		}
	})
	pub, err := amqpevents.NewPublisher(pubConn, a.cfg.Queue.UpdateExchange)
	if err != nil {
		return fmt.Errorf("init update publisher: %w", err)
	}
	a.publisher = pub

	// Blocking consume traffic gets its own connection; sharing one with
	// publish traffic deadlocks under broker flow control.
	subConn, err := amqp.Dial(a.cfg.Queue.URL)
	if err != nil {
		return fmt.Errorf("dial amqp for subscribing: %w", err)
	}
	a.closers = append(a.closers, func() {
		if cerr := subConn.Close(); cerr != nil {
			a.logger.Warn("error closing subscribe connection", zap.Error(cerr))
		}
	})
	a.subscriber = amqpevents.NewSubscriber(subConn, a.cfg.Queue.UpdateExchange, a.logger)
	return nil
}

// Close gracefully shuts down all services, newest first.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	// Flush buffered log entries; best effort.
	_ = a.logger.Sync()
}
