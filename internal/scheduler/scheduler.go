// Package scheduler runs the screening cycle on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"github.com/henrisama/dexscreener/internal/logger"
)

// Notifier receives error and recovery notices for consecutive cycle failures.
type Notifier interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// Loop runs a cycle immediately and then once per interval. Cycles never overlap.
type Loop struct {
	interval            time.Duration
	run                 func(ctx context.Context) error
	notifier            Notifier
	consecutiveFailures int
}

// New creates a loop. notifier may be nil.
func New(interval time.Duration, run func(ctx context.Context) error, notifier Notifier) *Loop {
	return &Loop{
		interval: interval,
		run:      run,
		notifier: notifier,
	}
}

// Run blocks until ctx is cancelled. A cycle in progress is allowed to finish:
// it runs under a context that ignores cancellation of ctx.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	logger.Debug("Running initial cycle")
	l.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				logger.Info("Scheduler stopped")
				return
			}
			logger.Debug("Starting scheduled cycle")
			l.runOnce(ctx)
		}
	}
}

// ConsecutiveFailures returns the length of the current failure streak.
func (l *Loop) ConsecutiveFailures() int {
	return l.consecutiveFailures
}

func (l *Loop) runOnce(ctx context.Context) {
	start := time.Now()
	err := l.run(context.WithoutCancel(ctx))
	l.handleResult(err)
	logger.Debug("Cycle finished in %v", time.Since(start))
}

func (l *Loop) handleResult(err error) {
	if err != nil {
		l.consecutiveFailures++
		logger.Error("Cycle failed: %v", err)
		if l.consecutiveFailures == 1 && l.notifier != nil {
			if sendErr := l.notifier.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}
	if l.consecutiveFailures > 0 && l.notifier != nil {
		if sendErr := l.notifier.SendRecovery(l.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
	l.consecutiveFailures = 0
}
