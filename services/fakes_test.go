package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"competition-lifecycle/models"

	"github.com/jonboulle/clockwork"
)

const (
	testGuild        = "guild-1"
	testPlanning     = "chan-planning"
	testAnnouncement = "chan-announcements"
	testRole         = "role-events"
)

// testNow is far enough ahead that every instant the tests arm is in the future.
var testNow = time.Date(2031, 3, 3, 15, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVotes struct {
	mu        sync.Mutex
	next      int
	opened    []OpenVoteInput
	finalized map[string]bool
	tallies   map[string][]TallyEntry
	missing   map[string]bool
	openErr   error
}

func newFakeVotes() *fakeVotes {
	return &fakeVotes{
		finalized: make(map[string]bool),
		tallies:   make(map[string][]TallyEntry),
		missing:   make(map[string]bool),
	}
}

func (f *fakeVotes) finalize(voteID string, tally ...TallyEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized[voteID] = true
	f.tallies[voteID] = tally
}

func (f *fakeVotes) OpenVote(ctx context.Context, in OpenVoteInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return "", f.openErr
	}
	f.next++
	f.opened = append(f.opened, in)
	return fmt.Sprintf("poll-%d", f.next), nil
}

func (f *fakeVotes) IsFinalized(ctx context.Context, voteID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[voteID] {
		return false, ErrVoteNotFound
	}
	return f.finalized[voteID], nil
}

func (f *fakeVotes) Tally(ctx context.Context, voteID string) ([]TallyEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing[voteID] {
		return nil, ErrVoteNotFound
	}
	return slices.Clone(f.tallies[voteID]), nil
}

type fakeTracker struct {
	mu         sync.Mutex
	next       int
	creates    []CreateCompetitionInput
	edits      []trackerEdit
	details    map[string]*CompetitionDetails
	createErr  error
	editErr    error
	detailsErr error
}

type trackerEdit struct {
	ID   string
	In   EditCompetitionInput
	Code string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{details: make(map[string]*CompetitionDetails)}
}

func (f *fakeTracker) CreateCompetition(ctx context.Context, in CreateCompetitionInput) (*CreatedCompetition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.next++
	f.creates = append(f.creates, in)
	return &CreatedCompetition{
		ID:               fmt.Sprintf("%d", 1000+f.next),
		Title:            in.Title,
		VerificationCode: fmt.Sprintf("code-%d", f.next),
	}, nil
}

func (f *fakeTracker) EditCompetition(ctx context.Context, competitionID string, in EditCompetitionInput, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, trackerEdit{ID: competitionID, In: in, Code: code})
	return nil
}

func (f *fakeTracker) GetCompetitionDetails(ctx context.Context, competitionID string) (*CompetitionDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	d, ok := f.details[competitionID]
	if !ok {
		return nil, errors.New("tracker: competition not found")
	}
	return d, nil
}

func (f *fakeTracker) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates)
}

type announcement struct {
	Channel string
	Content string
}

type fakeAnnouncer struct {
	mu   sync.Mutex
	sent []announcement
}

func (f *fakeAnnouncer) Announce(ctx context.Context, channelID, content string) (*PostedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, announcement{Channel: channelID, Content: content})
	id := fmt.Sprintf("msg-%d", len(f.sent))
	return &PostedMessage{
		ID:        id,
		ChannelID: channelID,
		Link:      fmt.Sprintf("https://discord.com/channels/%s/%s/%s", testGuild, channelID, id),
	}, nil
}

func (f *fakeAnnouncer) messages() []announcement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

type fakeArchive struct {
	mu      sync.Mutex
	results []CompetitionResults
}

func (f *fakeArchive) ArchiveResults(ctx context.Context, r CompetitionResults) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, r)
	return nil
}

type harness struct {
	svc       *CompetitionService
	store     *MemoryStore
	votes     *fakeVotes
	tracker   *fakeTracker
	announcer *fakeAnnouncer
	archive   *fakeArchive
	sched     *JobScheduler
	clock     *clockwork.FakeClock
	metrics   *Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	metrics := NewMetrics()
	sched, err := NewJobScheduler(clock, discardLogger(), metrics)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() { _ = sched.Shutdown() })

	h := &harness{
		store:     NewMemoryStore(),
		votes:     newFakeVotes(),
		tracker:   newFakeTracker(),
		announcer: &fakeAnnouncer{},
		archive:   &fakeArchive{},
		sched:     sched,
		clock:     clock,
		metrics:   metrics,
	}
	svc, err := NewCompetitionService(CompetitionServiceDeps{
		Store:     h.store,
		Settings:  h.store,
		Tracker:   h.tracker,
		Votes:     h.votes,
		Announcer: h.announcer,
		Archive:   h.archive,
		Scheduler: sched,
		Clock:     clock,
		Logger:    discardLogger(),
		Metrics:   metrics,
	}, LifecycleOptions{
		Location:             time.UTC,
		DefaultDaysAfterPoll: 7,
		TrackerPageURL:       "https://wiseoldman.net/competitions/",
		Participants:         []string{"I Earn Solo"},
	})
	if err != nil {
		t.Fatalf("new competition service: %v", err)
	}
	h.svc = svc

	days := 7
	if err := h.store.SaveSettings(context.Background(), &models.CompetitionSettings{
		GuildID:                testGuild,
		EventPlanningChannelID: testPlanning,
		AnnouncementsChannelID: testAnnouncement,
		ClanEventsRoleID:       testRole,
		DaysAfterPoll:          &days,
	}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	return h
}

func (h *harness) seedPoll(t *testing.T, pollID string) *models.Competition {
	t.Helper()
	comp := &models.Competition{
		GuildID:       testGuild,
		Type:          models.CompetitionTypeSkill,
		StartingHour:  "2:00pm",
		PollMessageID: pollID,
		Status:        models.StatusPollStarted,
	}
	if err := h.store.Upsert(context.Background(), comp); err != nil {
		t.Fatalf("seed poll row: %v", err)
	}
	return comp
}

func (h *harness) seedResolved(t *testing.T, id string, start, end time.Time, status models.CompetitionStatus) *models.Competition {
	t.Helper()
	comp := &models.Competition{
		GuildID:          testGuild,
		CompetitionID:    &id,
		Type:             models.CompetitionTypeSkill,
		Title:            "Skill of the Week: Fishing",
		Metric:           "fishing",
		VerificationCode: "code-" + id,
		StartsAt:         &start,
		EndsAt:           &end,
		StartingHour:     "12:00pm",
		PollMessageID:    "poll-for-" + id,
		Status:           status,
		Emoji:            "fishing_skill",
	}
	if err := h.store.Upsert(context.Background(), comp); err != nil {
		t.Fatalf("seed competition: %v", err)
	}
	return comp
}

func (h *harness) reload(t *testing.T, competitionID string) *models.Competition {
	t.Helper()
	comp, err := h.store.Get(context.Background(), competitionID)
	if err != nil {
		t.Fatalf("load competition %s: %v", competitionID, err)
	}
	return comp
}

func (h *harness) armedNames() []string {
	var names []string
	for _, j := range h.sched.Armed() {
		names = append(names, j.Name)
	}
	slices.Sort(names)
	return names
}

func jobNames(competitionID string, kinds ...string) []string {
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, JobName(k, competitionID))
	}
	slices.Sort(names)
	return names
}
