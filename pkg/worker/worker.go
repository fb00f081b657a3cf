package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nkurunziza/docextract/internal/dispatcher"
	"github.com/nkurunziza/docextract/pkg/logger"
	"github.com/nkurunziza/docextract/pkg/queue"
)

// Worker supervises the extraction consumer loop and the staleness watchdog.
// Both run until the context is cancelled; Run returns the first hard error.
type Worker struct {
	consumer   queue.Consumer
	dispatcher *dispatcher.Dispatcher
	watchdog   *dispatcher.Watchdog
	logger     logger.Logger
}

func New(consumer queue.Consumer, d *dispatcher.Dispatcher, wd *dispatcher.Watchdog, log logger.Logger) *Worker {
	return &Worker{
		consumer:   consumer,
		dispatcher: d,
		watchdog:   wd,
		logger:     log,
	}
}

// Run blocks until the context is cancelled or a component fails hard.
// Context cancellation is the normal shutdown path and is not an error.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		w.logger.Info("extraction consumer starting")
		return w.consumer.Run(ctx, w.dispatcher.Process)
	})

	if w.watchdog != nil {
		g.Go(func() error {
			w.logger.Info("staleness watchdog starting")
			return w.watchdog.Run(ctx)
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		// Shutdown was requested; the components just reported the cancel.
		w.logger.Info("worker stopped")
		return nil
	}
	return err
}
