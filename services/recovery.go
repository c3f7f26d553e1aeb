package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"competition-lifecycle/models"
)

var resolvedStatuses = []models.CompetitionStatus{
	models.StatusPollFinished,
	models.StatusSentReminder,
	models.StatusCompetitionStarted,
}

var unresolvedStatuses = []models.CompetitionStatus{
	models.StatusPollStarted,
	models.StatusTiebreakerPollStarted,
}

// DeriveStatus is the status a resolved competition should hold at now.
func DeriveStatus(startsAt, endsAt, now time.Time) models.CompetitionStatus {
	switch {
	case !now.Before(endsAt):
		return models.StatusCompetitionFinished
	case !now.Before(startsAt):
		return models.StatusCompetitionStarted
	case !now.Before(startsAt.Add(-reminderLead)):
		return models.StatusSentReminder
	default:
		return models.StatusPollFinished
	}
}

// RecoveryReport summarizes one catch-up pass.
type RecoveryReport struct {
	PollsProcessed   int      `json:"polls_processed"`
	StatusesAdvanced int      `json:"statuses_advanced"`
	HandlersRun      int      `json:"handlers_run"`
	JobsArmed        int      `json:"jobs_armed"`
	Errors           []string `json:"errors,omitempty"`
}

func (r *RecoveryReport) fail(err error) {
	r.Errors = append(r.Errors, err.Error())
}

func (r *RecoveryReport) idle() bool {
	return r.PollsProcessed == 0 && r.StatusesAdvanced == 0 && r.HandlersRun == 0 &&
		r.JobsArmed == 0 && len(r.Errors) == 0
}

// RescheduleAll reconciles stored competitions with the clock and the timer
// set: overdue statuses are advanced (running the start or end handler when
// its instant passed while offline or a fired handler failed), every allowed
// timer is armed, then finalized polls are processed. A failing competition is
// logged and skipped. The poll watcher repeats the pass on an interval.
func (s *CompetitionService) RescheduleAll(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	err := s.rescheduleAll(ctx, &report)
	s.stats.recoveryPass(err)
	if err != nil {
		return report, err
	}
	level := slog.LevelInfo
	if report.idle() {
		level = slog.LevelDebug
	}
	s.logger.Log(ctx, level, "catch-up pass complete",
		"polls_processed", report.PollsProcessed,
		"statuses_advanced", report.StatusesAdvanced,
		"handlers_run", report.HandlersRun,
		"jobs_armed", report.JobsArmed,
		"errors", len(report.Errors))
	return report, nil
}

func (s *CompetitionService) rescheduleAll(ctx context.Context, report *RecoveryReport) error {
	comps, err := s.store.List(ctx, resolvedStatuses...)
	if err != nil {
		return err
	}
	for _, c := range comps {
		if err := s.withCompetition(ctx, c.ExternalID(), func(comp *models.Competition) error {
			err := s.reconcile(ctx, comp, report)
			report.JobsArmed += s.scheduleJobs(comp)
			return err
		}); err != nil {
			s.logger.Error("reconcile competition failed", "competition_id", c.ExternalID(), "error", err)
			report.fail(fmt.Errorf("reconcile %s: %w", c.ExternalID(), err))
		}
	}

	// Polls resolved here arm their own timers.
	processed, errs := s.CatchUpPolls(ctx)
	report.PollsProcessed += processed
	for _, err := range errs {
		report.fail(err)
	}
	return nil
}

// reconcile brings one resolved competition up to date with the clock.
func (s *CompetitionService) reconcile(ctx context.Context, comp *models.Competition, report *RecoveryReport) error {
	if !comp.IsResolved() {
		return nil
	}
	now := s.clock.Now()
	start, end := *comp.StartsAt, *comp.EndsAt

	switch {
	case !now.Before(end) && comp.Status < models.StatusCompetitionFinished:
		report.HandlersRun++
		return s.finish(ctx, comp)
	case !now.Before(start) && comp.Status < models.StatusCompetitionStarted:
		report.HandlersRun++
		return s.start(ctx, comp)
	}

	derived := DeriveStatus(start, end, now)
	if derived <= comp.Status {
		return nil
	}
	s.logger.Info("status advanced from stored times",
		"competition_id", comp.ExternalID(), "from", comp.Status.String(), "to", derived.String())
	comp.Status = derived
	if err := s.store.Upsert(ctx, comp); err != nil {
		return err
	}
	report.StatusesAdvanced++
	return nil
}

// CatchUpPolls processes every unresolved competition whose poll has finalized.
func (s *CompetitionService) CatchUpPolls(ctx context.Context) (int, []error) {
	comps, err := s.store.List(ctx, unresolvedStatuses...)
	if err != nil {
		return 0, []error{err}
	}
	processed := 0
	var errs []error
	for _, c := range comps {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		handled, err := s.processPoll(ctx, c.PollMessageID)
		if err != nil {
			s.logger.Error("process poll failed", "poll_id", c.ActivePollID(), "guild_id", c.GuildID, "error", err)
			errs = append(errs, fmt.Errorf("poll %s: %w", c.ActivePollID(), err))
		}
		if handled {
			processed++
		}
	}
	return processed, errs
}

// CancelAndReschedule moves a competition to new times: the tracker is edited
// first, then every armed timer is cancelled, the status is recomputed from
// the new times (rewinding if needed) and the timers are armed again.
func (s *CompetitionService) CancelAndReschedule(ctx context.Context, competitionID string, startsAt, endsAt time.Time) (*models.Competition, error) {
	if !endsAt.After(startsAt) {
		return nil, ErrInvalidTimes
	}
	var out *models.Competition
	err := s.withCompetition(ctx, competitionID, func(comp *models.Competition) error {
		if !comp.IsResolved() {
			return ErrCompetitionUnresolved
		}
		if comp.VerificationCode == "" {
			return ErrMissingVerificationCode
		}
		err := s.tracker.EditCompetition(ctx, competitionID, EditCompetitionInput{
			StartsAt: &startsAt,
			EndsAt:   &endsAt,
		}, comp.VerificationCode)
		s.stats.trackerCall("edit", err)
		if err != nil {
			return fmt.Errorf("edit tracker competition %s: %w", competitionID, err)
		}
		if err := s.applyTimes(ctx, comp, startsAt, endsAt); err != nil {
			return err
		}
		out = comp
		return nil
	})
	return out, err
}

// SyncTimes pulls start and end times from the tracker and applies them when
// they differ from the stored ones. It reports whether anything changed.
func (s *CompetitionService) SyncTimes(ctx context.Context, competitionID string) (*models.Competition, bool, error) {
	var (
		out     *models.Competition
		changed bool
	)
	err := s.withCompetition(ctx, competitionID, func(comp *models.Competition) error {
		if !comp.IsResolved() {
			return ErrCompetitionUnresolved
		}
		details, err := s.tracker.GetCompetitionDetails(ctx, competitionID)
		s.stats.trackerCall("details", err)
		if err != nil {
			return fmt.Errorf("read tracker competition %s: %w", competitionID, err)
		}
		out = comp
		if details.StartsAt.Equal(*comp.StartsAt) && details.EndsAt.Equal(*comp.EndsAt) {
			return nil
		}
		if !details.EndsAt.After(details.StartsAt) {
			return ErrInvalidTimes
		}
		changed = true
		return s.applyTimes(ctx, comp, details.StartsAt, details.EndsAt)
	})
	return out, changed, err
}

func (s *CompetitionService) applyTimes(ctx context.Context, comp *models.Competition, startsAt, endsAt time.Time) error {
	id := comp.ExternalID()
	cancelled := s.cancelJobs(id)

	startsAt, endsAt = startsAt.UTC(), endsAt.UTC()
	comp.StartsAt = &startsAt
	comp.EndsAt = &endsAt
	previous := comp.Status
	comp.Status = DeriveStatus(startsAt, endsAt, s.clock.Now())
	if err := s.store.Upsert(ctx, comp); err != nil {
		return err
	}

	armed := s.scheduleJobs(comp)
	s.logger.Info("competition rescheduled",
		"competition_id", id,
		"starts_at", startsAt.Format(time.RFC3339),
		"ends_at", endsAt.Format(time.RFC3339),
		"from", previous.String(),
		"to", comp.Status.String(),
		"jobs_cancelled", len(cancelled),
		"jobs_armed", armed)
	return nil
}
