package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"competition-lifecycle/catalog"
	"competition-lifecycle/models"
)

// ManualInput describes a competition created without a poll.
type ManualInput struct {
	GuildID      string    `json:"guild_id"`
	Title        string    `json:"title"`
	Metric       string    `json:"metric"`
	StartsAt     time.Time `json:"starts_at"`
	EndsAt       time.Time `json:"ends_at"`
	Participants []string  `json:"participants"`
}

// LinkInput attaches an existing tracker competition to a guild.
// VerificationCode may be empty when the competition is already stored.
type LinkInput struct {
	GuildID          string `json:"guild_id"`
	CompetitionID    string `json:"competition_id"`
	VerificationCode string `json:"verification_code"`
	MessageLink      string `json:"message_link"`
	Emoji            string `json:"emoji"`
}

// directPollKey fills the poll column of competitions that never had a poll.
// It keeps the column unique and gives the row a stable lock key.
func directPollKey(competitionID string) string {
	return "direct-" + competitionID
}

func typeForMetric(m catalog.Metric) string {
	switch m.Kind {
	case catalog.KindSkill:
		return models.CompetitionTypeSkill
	case catalog.KindBoss:
		return models.CompetitionTypeBoss
	default:
		return ""
	}
}

// CreateCompetition creates a tracker competition from explicit input and
// arms its timers. The tracker is called once; a failure leaves nothing stored.
func (s *CompetitionService) CreateCompetition(ctx context.Context, in ManualInput) (*models.Competition, error) {
	metric, ok := s.catalog.Lookup(in.Metric)
	if !ok {
		metric, ok = s.catalog.Resolve(in.Metric)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, in.Metric)
	}
	start, end := in.StartsAt.UTC(), in.EndsAt.UTC()
	if !end.After(start) {
		return nil, ErrInvalidTimes
	}
	now := s.clock.Now()
	if !start.After(now) {
		return nil, fmt.Errorf("%w: start %s has passed", ErrInvalidTimes, start.Format(time.RFC3339))
	}

	compType := typeForMetric(metric)
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = fmt.Sprintf("%s: %s", compType, metric.Name)
	}

	created, err := s.tracker.CreateCompetition(ctx, CreateCompetitionInput{
		Title:        title,
		Metric:       metric.Key,
		StartsAt:     start,
		EndsAt:       end,
		Participants: mergeParticipants(s.opts.Participants, in.Participants),
	})
	s.stats.trackerCall("create", err)
	if err != nil {
		return nil, fmt.Errorf("create tracker competition: %w", err)
	}
	if created.Title != "" {
		title = created.Title
	}

	id := created.ID
	comp := &models.Competition{
		GuildID:          in.GuildID,
		CompetitionID:    &id,
		Type:             compType,
		Title:            title,
		Metric:           metric.Key,
		VerificationCode: created.VerificationCode,
		StartsAt:         &start,
		EndsAt:           &end,
		StartingHour:     s.opts.DefaultStartingHour,
		PollMessageID:    directPollKey(id),
		Status:           DeriveStatus(start, end, now),
		Emoji:            catalog.EmojiName(metric),
	}

	unlock := s.locks.Lock(comp.PollMessageID)
	defer unlock()
	if err := s.store.Upsert(ctx, comp); err != nil {
		s.logger.Error("tracker competition created but not stored", "competition_id", id, "error", err)
		return nil, err
	}

	log := s.logger.With("competition_id", id, "guild_id", comp.GuildID)
	log.Info("competition created manually", "title", comp.Title, "metric", comp.Metric,
		"starts_at", start.Format(time.RFC3339), "ends_at", end.Format(time.RFC3339))

	settings := s.loadSettings(ctx, comp.GuildID)
	if posted := s.announce(ctx, settings.AnnouncementsChannelID, createdMessage(settings.ClanEventsRoleID, comp, s.opts.TrackerPageURL)); posted != nil {
		comp.MessageLink = posted.Link
		if err := s.store.Upsert(ctx, comp); err != nil {
			log.Warn("store announcement link failed", "error", err)
		}
	}
	log.Info("competition jobs armed", "jobs", s.scheduleJobs(comp))
	return comp, nil
}

// LinkCompetition attaches a tracker competition to the guild and arms its
// timers. A stored competition keeps its verification code unless a new one is
// given; a competition seen for the first time needs one.
func (s *CompetitionService) LinkCompetition(ctx context.Context, in LinkInput) (*models.Competition, error) {
	details, err := s.tracker.GetCompetitionDetails(ctx, in.CompetitionID)
	s.stats.trackerCall("details", err)
	if err != nil {
		return nil, fmt.Errorf("load tracker competition %s: %w", in.CompetitionID, err)
	}
	if details.StartsAt.IsZero() || !details.EndsAt.After(details.StartsAt) {
		return nil, fmt.Errorf("%w: tracker competition %s", ErrInvalidTimes, in.CompetitionID)
	}

	var linked *models.Competition
	err = s.withCompetition(ctx, in.CompetitionID, func(comp *models.Competition) error {
		linked = comp
		return s.applyLink(ctx, comp, in)
	})
	if err == nil {
		return linked, nil
	}
	if !errors.Is(err, ErrCompetitionNotFound) {
		return nil, err
	}
	if in.VerificationCode == "" {
		return nil, fmt.Errorf("link %s: %w", in.CompetitionID, ErrMissingVerificationCode)
	}

	key := directPollKey(in.CompetitionID)
	unlock := s.locks.Lock(key)
	defer unlock()

	// Another link may have stored the row while the lock was free.
	if comp, err := s.store.Get(ctx, in.CompetitionID); err == nil {
		if comp.PollMessageID == key {
			return comp, s.applyLink(ctx, comp, in)
		}
		return nil, fmt.Errorf("link %s: stored concurrently by poll %s", in.CompetitionID, comp.PollMessageID)
	} else if !errors.Is(err, ErrCompetitionNotFound) {
		return nil, err
	}

	start, end := details.StartsAt.UTC(), details.EndsAt.UTC()
	id := in.CompetitionID
	comp := &models.Competition{
		GuildID:       in.GuildID,
		CompetitionID: &id,
		Title:         details.Title,
		Metric:        details.Metric,
		StartsAt:      &start,
		EndsAt:        &end,
		StartingHour:  s.opts.DefaultStartingHour,
		PollMessageID: key,
		Status:        DeriveStatus(start, end, s.clock.Now()),
		MessageLink:   in.MessageLink,
		Emoji:         in.Emoji,
	}
	if metric, ok := s.catalog.Lookup(details.Metric); ok {
		comp.Type = typeForMetric(metric)
		if comp.Emoji == "" {
			comp.Emoji = catalog.EmojiName(metric)
		}
	}
	if comp.Title == "" {
		comp.Title = s.catalog.DisplayName(details.Metric)
	}
	if err := s.applyLink(ctx, comp, in); err != nil {
		return nil, err
	}
	return comp, nil
}

// applyLink stores the link fields on comp and arms its timers. The caller
// holds the row lock.
func (s *CompetitionService) applyLink(ctx context.Context, comp *models.Competition, in LinkInput) error {
	// An empty code makes the store keep the one already recorded for this ID.
	comp.VerificationCode = in.VerificationCode
	if in.MessageLink != "" {
		comp.MessageLink = in.MessageLink
	}
	if in.Emoji != "" {
		comp.Emoji = in.Emoji
	}
	if err := s.store.Upsert(ctx, comp); err != nil {
		return err
	}
	armed := s.scheduleJobs(comp)
	s.logger.Info("competition linked",
		"competition_id", comp.ExternalID(), "guild_id", comp.GuildID, "status", comp.Status.String(), "jobs", armed)
	return nil
}

// ListCompetitions returns every competition stored for the guild.
func (s *CompetitionService) ListCompetitions(ctx context.Context, guildID string) ([]models.Competition, error) {
	comps, err := s.store.ListByGuild(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if comps == nil {
		comps = []models.Competition{}
	}
	return comps, nil
}

// mergeParticipants joins the configured roster with extra names, dropping
// blanks and case-insensitive duplicates.
func mergeParticipants(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	for _, name := range slices.Concat(base, extra) {
		name = strings.TrimSpace(name)
		if name == "" || slices.ContainsFunc(out, func(seen string) bool { return strings.EqualFold(seen, name) }) {
			continue
		}
		out = append(out, name)
	}
	return out
}
