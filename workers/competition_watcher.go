package workers

import (
	"context"
	"log/slog"
	"time"

	"competition-lifecycle/services"
	"competition-lifecycle/utils"
)

// Reconciler runs one catch-up pass over every stored competition.
type Reconciler interface {
	RescheduleAll(ctx context.Context) (services.RecoveryReport, error)
}

// WatchCompetitions repeats the catch-up pass on a ticker. A finalized event
// the gateway failed to deliver is still acted upon, and a start or end
// handler that failed when its timer fired is retried. It returns when ctx is
// done.
func WatchCompetitions(ctx context.Context, r Reconciler, interval time.Duration, logger *slog.Logger) {
	log := utils.ResolveLogger(logger).With("component", "competition_watcher")
	if interval <= 0 {
		log.Warn("competition watcher disabled", "interval", interval)
		return
	}
	log.Info("starting competition watcher", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("competition watcher stopped")
			return
		case <-ticker.C:
			report, err := r.RescheduleAll(ctx)
			if err != nil {
				log.Error("catch-up pass failed", "error", err)
				continue
			}
			for _, msg := range report.Errors {
				log.Warn("competition left for the next pass", "error", msg)
			}
			if report.PollsProcessed > 0 || report.HandlersRun > 0 {
				log.Info("overdue work processed",
					"polls", report.PollsProcessed, "handlers", report.HandlersRun)
			}
		}
	}
}
