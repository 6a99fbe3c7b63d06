package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper hands conversations abandoned in human mode back to the AI.
// Concurrent runs, in this process or others, are safe: each release is
// conditional on the idle cutoff, so only one run performs the handback.
type Sweeper struct {
	conversations ConversationStore
	service       *ConversationService
	timeout       time.Duration
	batch         int
}

func NewSweeper(conversations ConversationStore, service *ConversationService, timeout time.Duration, batch int) *Sweeper {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		conversations: conversations,
		service:       service,
		timeout:       timeout,
		batch:         batch,
	}
}

// RunOnce releases every human conversation idle for longer than the timeout
// as of now. It returns the number of releases that applied.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.timeout)
	released := 0

	for {
		candidates, err := s.conversations.ListIdleHuman(ctx, cutoff, s.batch)
		if err != nil {
			return released, err
		}

		progressed := 0
		for _, conv := range candidates {
			applied, err := s.service.ReleaseIdle(ctx, conv.ID, cutoff)
			if err != nil {
				slog.Error("Failed to auto-release conversation",
					"conversationID", conv.ID,
					"error", err,
				)
				continue
			}
			if applied {
				progressed++
				SweeperReleases.Inc()
			}
		}
		released += progressed

		// a full batch may mean more candidates; stop when nothing moved
		if len(candidates) < s.batch || progressed == 0 {
			break
		}
	}

	if released > 0 {
		slog.Info("Idle conversations released", "count", released, "cutoff", cutoff)
	}
	return released, nil
}

// Start schedules the sweeper on c. Overlapping runs within this process are
// skipped.
func (s *Sweeper) Start(ctx context.Context, c *cron.Cron, schedule string) (cron.EntryID, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(NewCronLogger())).Then(cron.FuncJob(func() {
		if _, err := s.RunOnce(ctx, time.Now()); err != nil {
			slog.Error("Sweeper run failed", "error", err)
		}
	}))
	return c.AddJob(schedule, job)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func NewCronLogger() cron.Logger {
	return cronLogger{logger: slog.Default().With("component", "cron")}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
