package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"competition-lifecycle/catalog"
	"competition-lifecycle/models"
)

// Job kinds armed for every resolved competition.
const (
	JobReminder = "reminder"
	JobPreStart = "pre-start-reminder"
	JobPreEnd   = "pre-end-reminder"
	JobStart    = "start"
	JobEnd      = "end"
)

const (
	reminderLead = 24 * time.Hour
	noticeLead   = 30 * time.Minute
)

// JobName is the scheduler identity of a competition timer.
func JobName(kind, competitionID string) string {
	return kind + "-" + competitionID
}

type plannedJob struct {
	kind    string
	at      time.Time
	allowed bool
}

func planJobs(comp *models.Competition) []plannedJob {
	start, end := *comp.StartsAt, *comp.EndsAt
	st := comp.Status
	return []plannedJob{
		{JobReminder, start.Add(-reminderLead), st == models.StatusPollFinished},
		{JobPreStart, start.Add(-noticeLead), st == models.StatusPollFinished || st == models.StatusSentReminder},
		{JobPreEnd, end.Add(-noticeLead), true},
		{JobStart, start, st < models.StatusCompetitionStarted},
		{JobEnd, end, true},
	}
}

// scheduleJobs arms every timer the competition's status and times allow and
// returns how many were newly armed. Names already armed are left alone.
func (s *CompetitionService) scheduleJobs(comp *models.Competition) int {
	if !comp.IsResolved() {
		return 0
	}
	id := comp.ExternalID()
	now := s.clock.Now()
	armed := 0
	for _, job := range planJobs(comp) {
		if !job.allowed || !job.at.After(now) {
			continue
		}
		kind := job.kind
		ok, err := s.scheduler.Schedule(JobName(kind, id), job.at, func(ctx context.Context) {
			s.runJob(ctx, kind, id)
		}, id)
		if err != nil {
			s.logger.Warn("arm job failed", "job", JobName(kind, id), "error", err)
			continue
		}
		if ok {
			armed++
			s.stats.jobScheduled(kind)
		}
	}
	return armed
}

// cancelJobs disarms every timer tagged with the competition ID.
func (s *CompetitionService) cancelJobs(competitionID string) []string {
	return s.scheduler.CancelTagged(competitionID)
}

func (s *CompetitionService) runJob(ctx context.Context, kind, competitionID string) {
	log := s.logger.With("job", JobName(kind, competitionID), "competition_id", competitionID)
	log.Info("job fired")

	err := s.withCompetition(ctx, competitionID, func(comp *models.Competition) error {
		switch kind {
		case JobReminder:
			return s.remind(ctx, comp)
		case JobPreStart:
			return s.notice(ctx, comp, true)
		case JobPreEnd:
			return s.notice(ctx, comp, false)
		case JobStart:
			return s.start(ctx, comp)
		case JobEnd:
			return s.finish(ctx, comp)
		}
		return nil
	})
	if errors.Is(err, ErrCompetitionNotFound) {
		log.Info("competition no longer exists, job skipped")
		err = nil
	}
	s.stats.jobFired(kind, err)
	if err != nil {
		log.Error("job failed", "error", err)
	}
}

func (s *CompetitionService) remind(ctx context.Context, comp *models.Competition) error {
	if comp.Status != models.StatusPollFinished {
		return nil
	}
	settings := s.loadSettings(ctx, comp.GuildID)
	s.announce(ctx, settings.AnnouncementsChannelID, reminderMessage(settings.ClanEventsRoleID, comp, s.opts.TrackerPageURL))

	comp.Status = models.StatusSentReminder
	return s.store.Upsert(ctx, comp)
}

func (s *CompetitionService) notice(ctx context.Context, comp *models.Competition, starting bool) error {
	if starting && comp.Status >= models.StatusCompetitionStarted {
		return nil
	}
	if !starting && comp.Status == models.StatusCompetitionFinished {
		return nil
	}
	settings := s.loadSettings(ctx, comp.GuildID)
	s.announce(ctx, settings.AnnouncementsChannelID, noticeMessage(settings.ClanEventsRoleID, comp, s.opts.TrackerPageURL, starting))
	return nil
}

func (s *CompetitionService) start(ctx context.Context, comp *models.Competition) error {
	if comp.Status >= models.StatusCompetitionStarted {
		return nil
	}
	settings := s.loadSettings(ctx, comp.GuildID)
	s.announce(ctx, settings.AnnouncementsChannelID, startedMessage(settings.ClanEventsRoleID, comp, s.opts.TrackerPageURL))

	comp.Status = models.StatusCompetitionStarted
	if err := s.store.Upsert(ctx, comp); err != nil {
		return err
	}
	s.logger.Info("competition started", "competition_id", comp.ExternalID(), "title", comp.Title)
	return nil
}

// finish reads final standings from the tracker, announces the winners and
// marks the competition finished. A tracker failure leaves the row for the
// next catch-up pass.
func (s *CompetitionService) finish(ctx context.Context, comp *models.Competition) error {
	if comp.Status >= models.StatusCompetitionFinished {
		return nil
	}
	details, err := s.tracker.GetCompetitionDetails(ctx, comp.ExternalID())
	s.stats.trackerCall("details", err)
	if err != nil {
		return err
	}
	standings := RankStandings(details.Participations)

	settings := s.loadSettings(ctx, comp.GuildID)
	s.announce(ctx, settings.AnnouncementsChannelID, finishedMessage(settings.ClanEventsRoleID, comp, s.opts.TrackerPageURL, standings))

	comp.Status = models.StatusCompetitionFinished
	if err := s.store.Upsert(ctx, comp); err != nil {
		return err
	}
	s.logger.Info("competition finished", "competition_id", comp.ExternalID(), "placed", len(standings))

	s.rememberMetric(ctx, comp)
	s.archiveResults(ctx, comp, standings)
	return nil
}

// RankStandings orders participants with positive progress by gained amount.
func RankStandings(participations []Participation) []Standing {
	var out []Standing
	for _, p := range participations {
		if p.Gained > 0 {
			out = append(out, Standing{DisplayName: p.DisplayName, Gained: p.Gained})
		}
	}
	slices.SortStableFunc(out, func(a, b Standing) int {
		switch {
		case a.Gained > b.Gained:
			return -1
		case a.Gained < b.Gained:
			return 1
		}
		return 0
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// rememberMetric appends the finished metric to the guild's recent list so the
// next polls leave it out. Only guilds with stored settings keep the list.
func (s *CompetitionService) rememberMetric(ctx context.Context, comp *models.Competition) {
	settings, err := s.settings.GetSettings(ctx, comp.GuildID)
	if err != nil || settings == nil {
		if err != nil {
			s.logger.Warn("load settings for recent metrics failed", "guild_id", comp.GuildID, "error", err)
		}
		return
	}
	recent := slices.DeleteFunc(catalog.SplitList(settings.LastChosenMetric), func(k string) bool {
		return strings.EqualFold(k, comp.Metric)
	})
	recent = append(recent, comp.Metric)
	if over := len(recent) - s.opts.RecentMetricWindow; over > 0 {
		recent = recent[over:]
	}
	settings.LastChosenMetric = strings.Join(recent, ",")
	if err := s.settings.SaveSettings(ctx, settings); err != nil {
		s.logger.Warn("store recent metrics failed", "guild_id", comp.GuildID, "error", err)
	}
}

func (s *CompetitionService) archiveResults(ctx context.Context, comp *models.Competition, standings []Standing) {
	if s.archive == nil {
		return
	}
	err := s.archive.ArchiveResults(ctx, CompetitionResults{
		GuildID:       comp.GuildID,
		CompetitionID: comp.ExternalID(),
		Type:          comp.Type,
		Title:         comp.Title,
		Metric:        comp.Metric,
		StartsAt:      *comp.StartsAt,
		EndsAt:        *comp.EndsAt,
		FinishedAt:    s.clock.Now().UTC(),
		Standings:     standings,
	})
	if err != nil {
		s.logger.Warn("archive results failed", "competition_id", comp.ExternalID(), "error", err)
	}
}
