package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"competition-lifecycle/catalog"
	"competition-lifecycle/models"
	"competition-lifecycle/utils"

	"github.com/jonboulle/clockwork"
)

const defaultPollDays = 7

// LifecycleOptions are the defaults applied when a guild has no override.
type LifecycleOptions struct {
	Location              *time.Location
	DefaultStartingHour   string
	CompetitionLength     time.Duration
	DefaultDaysAfterPoll  int
	DefaultTiebreakerDays int
	MaxTiebreakerRounds   int
	RecentMetricWindow    int
	PollOptionCount       int
	TrackerPageURL        string
	Participants          []string
}

func (o *LifecycleOptions) applyDefaults() {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.DefaultStartingHour == "" {
		o.DefaultStartingHour = "12:00pm"
	}
	if o.CompetitionLength <= 0 {
		o.CompetitionLength = 7 * 24 * time.Hour
	}
	if o.DefaultDaysAfterPoll < 0 {
		o.DefaultDaysAfterPoll = 0
	}
	if o.DefaultTiebreakerDays <= 0 {
		o.DefaultTiebreakerDays = 3
	}
	if o.MaxTiebreakerRounds <= 0 {
		o.MaxTiebreakerRounds = 3
	}
	if o.RecentMetricWindow <= 0 {
		o.RecentMetricWindow = 3
	}
	if o.PollOptionCount <= 0 {
		o.PollOptionCount = 10
	}
}

// CompetitionServiceDeps wires the collaborators of CompetitionService.
// Archive is optional.
type CompetitionServiceDeps struct {
	Store     CompetitionStore
	Settings  SettingsStore
	Tracker   CompetitionClient
	Votes     VoteProvider
	Announcer Announcer
	Archive   ResultsArchive
	Scheduler *JobScheduler
	Catalog   *catalog.Catalog
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *Metrics
}

// CompetitionService drives a competition from its poll to its results.
// All mutations of one competition row are serialized on the row's poll ID.
type CompetitionService struct {
	store     CompetitionStore
	settings  SettingsStore
	tracker   CompetitionClient
	votes     VoteProvider
	announcer Announcer
	archive   ResultsArchive
	scheduler *JobScheduler
	catalog   *catalog.Catalog
	clock     clockwork.Clock
	logger    *slog.Logger
	stats     *Metrics
	opts      LifecycleOptions
	locks     *keyedMutex
	pick      func(n int) int
}

func NewCompetitionService(deps CompetitionServiceDeps, opts LifecycleOptions) (*CompetitionService, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("competition store is required")
	case deps.Settings == nil:
		return nil, errors.New("settings store is required")
	case deps.Tracker == nil:
		return nil, errors.New("competition tracker client is required")
	case deps.Votes == nil:
		return nil, errors.New("vote provider is required")
	case deps.Announcer == nil:
		return nil, errors.New("announcer is required")
	case deps.Scheduler == nil:
		return nil, errors.New("job scheduler is required")
	}
	if deps.Catalog == nil {
		c, err := catalog.Default()
		if err != nil {
			return nil, err
		}
		deps.Catalog = c
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	opts.applyDefaults()

	return &CompetitionService{
		store:     deps.Store,
		settings:  deps.Settings,
		tracker:   deps.Tracker,
		votes:     deps.Votes,
		announcer: deps.Announcer,
		archive:   deps.Archive,
		scheduler: deps.Scheduler,
		catalog:   deps.Catalog,
		clock:     deps.Clock,
		logger:    utils.ResolveLogger(deps.Logger).With("component", "lifecycle"),
		stats:     deps.Metrics,
		opts:      opts,
		locks:     newKeyedMutex(),
		pick:      rand.IntN,
	}, nil
}

// Get returns the competition stored for a tracker ID.
func (s *CompetitionService) Get(ctx context.Context, competitionID string) (*models.Competition, error) {
	return s.store.Get(ctx, competitionID)
}

// OnVoteFinalized evaluates the poll or tiebreaker identified by pollID.
// Events for a poll that has since been replaced by a tiebreaker are ignored.
func (s *CompetitionService) OnVoteFinalized(ctx context.Context, pollID string) error {
	comp, err := s.store.GetByPoll(ctx, pollID)
	if err != nil {
		return err
	}
	if comp.ActivePollID() != pollID {
		s.logger.Debug("ignoring superseded poll", "poll_id", pollID, "active_poll_id", comp.ActivePollID())
		return nil
	}
	_, err = s.processPoll(ctx, comp.PollMessageID)
	return err
}

// processPoll runs one unresolved competition through evaluation. It reports
// whether the poll was finalized and acted upon.
func (s *CompetitionService) processPoll(ctx context.Context, pollMessageID string) (bool, error) {
	unlock := s.locks.Lock(pollMessageID)
	defer unlock()

	comp, err := s.store.GetByPoll(ctx, pollMessageID)
	if err != nil {
		return false, err
	}
	if comp.IsResolved() ||
		(comp.Status != models.StatusPollStarted && comp.Status != models.StatusTiebreakerPollStarted) {
		return false, nil
	}

	voteID := comp.ActivePollID()
	log := s.logger.With("guild_id", comp.GuildID, "poll_id", voteID)

	finalized, err := s.votes.IsFinalized(ctx, voteID)
	if err != nil {
		if errors.Is(err, ErrVoteNotFound) {
			log.Error("competition references a poll that no longer exists, leaving row untouched")
			return false, fmt.Errorf("poll %s: %w", voteID, err)
		}
		log.Warn("poll status unavailable, will retry", "error", err)
		return false, nil
	}
	if !finalized {
		return false, nil
	}

	tally, err := s.votes.Tally(ctx, voteID)
	if err != nil {
		log.Warn("poll tally unavailable, will retry", "error", err)
		return false, nil
	}
	if len(tally) == 0 {
		log.Error("finalized poll has no options, leaving row untouched")
		return false, nil
	}

	outcome := EvaluatePoll(tally, comp.Status)
	s.stats.pollOutcome(outcome.Kind)
	log.Info("poll finalized", "outcome", outcome.Kind.String(), "total_votes", outcome.TotalVotes)

	switch outcome.Kind {
	case OutcomeAbstain:
		if err := s.store.Delete(ctx, comp); err != nil {
			return false, err
		}
		log.Info("competition removed after poll received no votes", "type", comp.Type)
		return true, nil

	case OutcomeTie:
		if comp.TiebreakerRounds < s.opts.MaxTiebreakerRounds {
			return true, s.openTiebreaker(ctx, comp, outcome.Tied)
		}
		winner := outcome.Tied[s.pick(len(outcome.Tied))]
		log.Info("tiebreaker rounds exhausted, picked a tied option at random",
			"rounds", comp.TiebreakerRounds, "winner", winner.Label)
		return true, s.createFromPoll(ctx, comp, winner.Label)

	default:
		return true, s.createFromPoll(ctx, comp, outcome.Winner.Label)
	}
}

func (s *CompetitionService) openTiebreaker(ctx context.Context, comp *models.Competition, tied []TallyEntry) error {
	settings := s.loadSettings(ctx, comp.GuildID)
	if settings.EventPlanningChannelID == "" {
		s.logger.Warn("no event planning channel, tiebreaker poll not opened", "guild_id", comp.GuildID)
		return fmt.Errorf("open tiebreaker for guild %s: %w", comp.GuildID, ErrMissingChannel)
	}

	days := s.opts.DefaultTiebreakerDays
	if settings.TiebreakerPollDuration != nil && *settings.TiebreakerPollDuration > 0 {
		days = *settings.TiebreakerPollDuration
	}
	options := make([]VoteOption, 0, len(tied))
	for _, t := range tied {
		options = append(options, VoteOption{Label: t.Label, Emoji: t.Emoji})
	}

	voteID, err := s.votes.OpenVote(ctx, OpenVoteInput{
		ChannelID:     settings.EventPlanningChannelID,
		Question:      fmt.Sprintf("Tiebreaker: Vote for the next %s!", comp.Type),
		Options:       options,
		DurationHours: days * 24,
	})
	if err != nil {
		return fmt.Errorf("open tiebreaker poll for %s: %w", comp.PollMessageID, err)
	}

	comp.TiebreakerPollMessageID = &voteID
	comp.TiebreakerRounds++
	comp.Status = models.StatusTiebreakerPollStarted
	if err := s.store.Upsert(ctx, comp); err != nil {
		return err
	}
	s.logger.Info("tiebreaker poll opened",
		"guild_id", comp.GuildID, "poll_id", voteID, "round", comp.TiebreakerRounds, "options", len(options))

	if settings.ClanEventsRoleID != "" {
		s.announce(ctx, settings.EventPlanningChannelID, tiebreakerMessage(settings.ClanEventsRoleID, comp.Type))
	}
	return nil
}

// createFromPoll turns a poll winner into a tracker competition. The row is
// written only after the tracker call succeeds, so a failed call is retried by
// the next catch-up pass.
func (s *CompetitionService) createFromPoll(ctx context.Context, comp *models.Competition, winningLabel string) error {
	if comp.IsResolved() {
		return nil
	}
	metric, ok := s.catalog.Resolve(winningLabel)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, winningLabel)
	}

	settings := s.loadSettings(ctx, comp.GuildID)
	startsAt, endsAt, err := s.competitionWindow(comp, settings)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s: %s", comp.Type, winningLabel)

	created, err := s.tracker.CreateCompetition(ctx, CreateCompetitionInput{
		Title:        title,
		Metric:       metric.Key,
		StartsAt:     startsAt,
		EndsAt:       endsAt,
		Participants: s.opts.Participants,
	})
	s.stats.trackerCall("create", err)
	if err != nil {
		return fmt.Errorf("create tracker competition for poll %s: %w", comp.PollMessageID, err)
	}

	id := created.ID
	comp.CompetitionID = &id
	comp.VerificationCode = created.VerificationCode
	if created.Title != "" {
		title = created.Title
	}
	comp.Title = title
	comp.Metric = metric.Key
	comp.WinningOption = winningLabel
	comp.Emoji = catalog.EmojiName(metric)
	comp.StartsAt = &startsAt
	comp.EndsAt = &endsAt
	comp.Status = models.StatusPollFinished
	if err := s.store.Upsert(ctx, comp); err != nil {
		s.logger.Error("tracker competition created but not stored", "competition_id", id, "error", err)
		return err
	}

	log := s.logger.With("competition_id", id, "guild_id", comp.GuildID)
	log.Info("competition created", "title", comp.Title, "metric", comp.Metric,
		"starts_at", startsAt.Format(time.RFC3339), "ends_at", endsAt.Format(time.RFC3339))

	if posted := s.announce(ctx, settings.AnnouncementsChannelID, createdMessage(settings.ClanEventsRoleID, comp, s.opts.TrackerPageURL)); posted != nil {
		comp.MessageLink = posted.Link
		if err := s.store.Upsert(ctx, comp); err != nil {
			log.Warn("store announcement link failed", "error", err)
		}
	}

	armed := s.scheduleJobs(comp)
	log.Info("competition jobs armed", "jobs", armed)
	return nil
}

// competitionWindow computes the start on the resolution day at the row's
// starting hour, shifted by the guild's days-after-poll offset.
func (s *CompetitionService) competitionWindow(comp *models.Competition, settings *models.CompetitionSettings) (time.Time, time.Time, error) {
	hour := comp.StartingHour
	if _, _, err := utils.ParseStartingHour(hour); err != nil {
		s.logger.Warn("invalid starting hour, using default",
			"guild_id", comp.GuildID, "starting_hour", hour, "default", s.opts.DefaultStartingHour)
		hour = s.opts.DefaultStartingHour
	}
	days := s.opts.DefaultDaysAfterPoll
	if settings.DaysAfterPoll != nil && *settings.DaysAfterPoll >= 0 {
		days = *settings.DaysAfterPoll
	}

	start, err := utils.StartInstant(s.clock.Now(), hour, s.opts.Location, days)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = start.UTC()
	return start, start.Add(s.opts.CompetitionLength), nil
}

// HostInput describes a new competition poll.
type HostInput struct {
	GuildID      string `json:"guild_id"`
	Type         string `json:"type"`
	StartingHour string `json:"starting_hour"`
	PollDays     int    `json:"poll_days"`
}

// HostCompetition opens a poll of metrics for the guild and records the
// competition in POLL_STARTED.
func (s *CompetitionService) HostCompetition(ctx context.Context, in HostInput) (*models.Competition, error) {
	kind := catalog.KindFor(in.Type)
	if kind == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompetitionType, in.Type)
	}
	startingHour := in.StartingHour
	if strings.TrimSpace(startingHour) == "" {
		startingHour = s.opts.DefaultStartingHour
	}
	startingHour, err := utils.NormalizeStartingHour(startingHour)
	if err != nil {
		return nil, err
	}

	settings := s.loadSettings(ctx, in.GuildID)
	if settings.EventPlanningChannelID == "" {
		return nil, fmt.Errorf("event planning channel for guild %s: %w", in.GuildID, ErrMissingChannel)
	}

	exclude := catalog.SplitList(settings.LastChosenMetric)
	if kind == catalog.KindSkill {
		exclude = append(exclude, catalog.SplitList(settings.SkillBlacklist)...)
	} else {
		exclude = append(exclude, catalog.SplitList(settings.BossBlacklist)...)
	}
	picked := s.catalog.BuildPollOptions(in.Type, exclude, s.opts.PollOptionCount, nil)
	if len(picked) < 2 {
		return nil, fmt.Errorf("%w: %d left for %s", ErrNotEnoughOptions, len(picked), in.Type)
	}
	options := make([]VoteOption, 0, len(picked))
	for _, o := range picked {
		options = append(options, VoteOption{Label: o.Label, Emoji: o.Emoji})
	}

	days := in.PollDays
	if days <= 0 {
		days = defaultPollDays
	}
	voteID, err := s.votes.OpenVote(ctx, OpenVoteInput{
		ChannelID:     settings.EventPlanningChannelID,
		Question:      fmt.Sprintf("Vote for the next %s!", in.Type),
		Options:       options,
		DurationHours: max(1, days*24),
		AllowMultiple: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open poll for guild %s: %w", in.GuildID, err)
	}

	comp := &models.Competition{
		GuildID:       in.GuildID,
		Type:          in.Type,
		StartingHour:  startingHour,
		PollMessageID: voteID,
		Status:        models.StatusPollStarted,
	}
	if err := s.store.Upsert(ctx, comp); err != nil {
		return nil, err
	}
	s.logger.Info("competition poll opened",
		"guild_id", in.GuildID, "poll_id", voteID, "type", in.Type, "options", len(options))

	if settings.ClanEventsRoleID != "" {
		s.announce(ctx, settings.EventPlanningChannelID, pollOpenedMessage(settings.ClanEventsRoleID, in.Type))
	}
	return comp, nil
}

// Unlink cancels every timer of the competition and removes its row.
func (s *CompetitionService) Unlink(ctx context.Context, competitionID string) error {
	return s.withCompetition(ctx, competitionID, func(comp *models.Competition) error {
		cancelled := s.cancelJobs(competitionID)
		if err := s.store.Delete(ctx, comp); err != nil {
			return err
		}
		s.logger.Info("competition unlinked", "competition_id", competitionID, "jobs_cancelled", len(cancelled))
		return nil
	})
}

// GetSettings returns the guild's settings, or an empty record when none are stored.
func (s *CompetitionService) GetSettings(ctx context.Context, guildID string) (*models.CompetitionSettings, error) {
	settings, err := s.settings.GetSettings(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = &models.CompetitionSettings{GuildID: guildID}
	}
	return settings, nil
}

// SaveSettings validates metric lists against the catalog and stores them in
// canonical form.
func (s *CompetitionService) SaveSettings(ctx context.Context, settings *models.CompetitionSettings) error {
	for _, list := range []*string{&settings.SkillBlacklist, &settings.BossBlacklist, &settings.LastChosenMetric} {
		keys := catalog.SplitList(*list)
		for i, k := range keys {
			m, ok := s.catalog.Lookup(k)
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownMetric, k)
			}
			keys[i] = m.Key
		}
		*list = strings.Join(keys, ",")
	}
	if settings.DaysAfterPoll != nil && *settings.DaysAfterPoll < 0 {
		return fmt.Errorf("%w: days_after_poll must not be negative", ErrInvalidSettings)
	}
	if settings.TiebreakerPollDuration != nil && *settings.TiebreakerPollDuration <= 0 {
		return fmt.Errorf("%w: tiebreaker_poll_duration must be positive", ErrInvalidSettings)
	}
	return s.settings.SaveSettings(ctx, settings)
}

// withCompetition loads the row for competitionID, takes its lock, reloads it
// and hands the fresh copy to fn.
func (s *CompetitionService) withCompetition(ctx context.Context, competitionID string, fn func(comp *models.Competition) error) error {
	comp, err := s.store.Get(ctx, competitionID)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(comp.PollMessageID)
	defer unlock()

	comp, err = s.store.Get(ctx, competitionID)
	if err != nil {
		return err
	}
	return fn(comp)
}

func (s *CompetitionService) loadSettings(ctx context.Context, guildID string) *models.CompetitionSettings {
	settings, err := s.settings.GetSettings(ctx, guildID)
	if err != nil {
		s.logger.Warn("load guild settings failed, using defaults", "guild_id", guildID, "error", err)
	}
	if settings == nil {
		settings = &models.CompetitionSettings{GuildID: guildID}
	}
	return settings
}

// announce posts content to channelID. A missing channel or a failed post is
// logged and skipped.
func (s *CompetitionService) announce(ctx context.Context, channelID, content string) *PostedMessage {
	if channelID == "" {
		s.logger.Warn("announcement skipped", "error", ErrMissingChannel)
		return nil
	}
	posted, err := s.announcer.Announce(ctx, channelID, content)
	if err != nil {
		s.logger.Warn("announcement failed", "channel_id", channelID, "error", err)
		return nil
	}
	return posted
}
