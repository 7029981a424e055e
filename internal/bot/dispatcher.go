package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/telegram"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultWorkers     = 4
	defaultQueueSize   = 64
	defaultPollTimeout = 30 * time.Second
	maxPollBackoff     = time.Minute
)

var (
	// ErrDispatcherStopped is returned when updates arrive after the dispatcher stopped.
	ErrDispatcherStopped = errors.New("bot: dispatcher stopped")
	errMissingHandler    = errors.New("bot: update handler is required")
)

// UpdateHandler processes updates and reports the ones that failed.
type UpdateHandler interface {
	Handle(ctx context.Context, update telegram.Update) error
	ReportError(ctx context.Context, update telegram.Update, err error)
}

// UpdateSource long-polls Telegram for updates.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]telegram.Update, error)
}

// DispatcherConfig configures the worker pool.
type DispatcherConfig struct {
	Handler   UpdateHandler
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// Dispatcher fans updates out to a fixed pool of workers.
type Dispatcher struct {
	handler UpdateHandler
	workers int
	queue   chan telegram.Update
	done    chan struct{}
	logger  *zap.Logger
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Handler == nil {
		return nil, errMissingHandler
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		handler: cfg.Handler,
		workers: workers,
		queue:   make(chan telegram.Update, queueSize),
		done:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// Run processes queued updates until ctx is cancelled and returns once every worker stopped.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for worker := 0; worker < d.workers; worker++ {
		wg.Go(func() {
			for {
				select {
				case update := <-d.queue:
					d.process(ctx, update)
				case <-ctx.Done():
					return
				}
			}
		})
	}
	d.logger.Info("dispatcher started", zap.Int("workers", d.workers))
	<-ctx.Done()
	close(d.done)
	wg.Wait()
	d.logger.Info("dispatcher stopped")
	return nil
}

// Enqueue hands an update to the workers, waiting while the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, update telegram.Update) error {
	select {
	case <-d.done:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.queue <- update:
		return nil
	case <-d.done:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll long-polls source and enqueues every update until ctx is cancelled.
// Failed polls are retried with exponential backoff.
func (d *Dispatcher) Poll(ctx context.Context, source UpdateSource, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	var offset int64
	backoff := time.Second
	for {
		updates, err := source.GetUpdates(ctx, offset, int(timeout.Seconds()))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("failed to poll updates", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			backoff = min(2*backoff, maxPollBackoff)
			continue
		}
		backoff = time.Second
		for _, update := range updates {
			if err := d.Enqueue(ctx, update); err != nil {
				if ctx.Err() != nil || errors.Is(err, ErrDispatcherStopped) {
					return nil
				}
				return err
			}
			offset = update.UpdateID + 1
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, update telegram.Update) {
	traceID := uuid.NewString()
	logger := d.logger.With(zap.String("trace_id", traceID), zap.Int64("update_id", update.UpdateID))
	started := time.Now()

	err := d.handle(ctx, update)
	if err != nil {
		d.handler.ReportError(ctx, update, err)
		return
	}
	logger.Debug("update handled", zap.Duration("duration", time.Since(started)))
}

func (d *Dispatcher) handle(ctx context.Context, update telegram.Update) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic while handling update %d: %v\n%s", update.UpdateID, recovered, debug.Stack())
		}
	}()
	return d.handler.Handle(ctx, update)
}
