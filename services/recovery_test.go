package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"competition-lifecycle/models"
)

func TestDeriveStatus(t *testing.T) {
	start := testNow.Add(48 * time.Hour)
	end := start.Add(7 * 24 * time.Hour)
	cases := []struct {
		name string
		now  time.Time
		want models.CompetitionStatus
	}{
		{"well before start", start.Add(-72 * time.Hour), models.StatusPollFinished},
		{"inside reminder window", start.Add(-2 * time.Hour), models.StatusSentReminder},
		{"exactly one day before", start.Add(-24 * time.Hour), models.StatusSentReminder},
		{"at start", start, models.StatusCompetitionStarted},
		{"running", end.Add(-time.Hour), models.StatusCompetitionStarted},
		{"at end", end, models.StatusCompetitionFinished},
		{"after end", end.Add(time.Hour), models.StatusCompetitionFinished},
	}
	for _, tc := range cases {
		if got := DeriveStatus(start, end, tc.now); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestRecoveryGatesJobsOnInstantNotStatus(t *testing.T) {
	h := newHarness(t)
	start := testNow.Add(2 * time.Hour)
	h.seedResolved(t, "77", start, start.Add(7*24*time.Hour), models.StatusPollFinished)

	report, err := h.svc.RescheduleAll(context.Background())
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	want := jobNames("77", JobPreStart, JobPreEnd, JobStart, JobEnd)
	if got := h.armedNames(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if report.JobsArmed != 4 {
		t.Fatalf("expected 4 jobs armed, got %d", report.JobsArmed)
	}
	if got := h.reload(t, "77").Status; got != models.StatusSentReminder {
		t.Fatalf("expected status re-derived to sent_reminder, got %s", got)
	}
}

func TestRecoveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	start := testNow.Add(72 * time.Hour)
	h.seedResolved(t, "77", start, start.Add(7*24*time.Hour), models.StatusPollFinished)

	first, err := h.svc.RescheduleAll(context.Background())
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := h.svc.RescheduleAll(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if first.JobsArmed != 5 || second.JobsArmed != 0 {
		t.Fatalf("expected 5 then 0 newly armed, got %d then %d", first.JobsArmed, second.JobsArmed)
	}
	if len(h.sched.Armed()) != 5 {
		t.Fatalf("expected 5 armed jobs, got %v", h.armedNames())
	}
}

func TestCancelAndRescheduleRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)
	comp := h.seedResolved(t, "77", start, start.Add(7*24*time.Hour), models.StatusPollFinished)
	h.svc.scheduleJobs(comp)

	newStart := testNow.Add(10 * time.Hour)
	newEnd := newStart.Add(3 * 24 * time.Hour)
	updated, err := h.svc.CancelAndReschedule(ctx, "77", newStart, newEnd)
	if err != nil {
		t.Fatalf("cancel and reschedule: %v", err)
	}
	if updated.Status != models.StatusSentReminder {
		t.Fatalf("expected sent_reminder for start within a day, got %s", updated.Status)
	}
	afterEdit := h.armedNames()
	want := jobNames("77", JobPreStart, JobPreEnd, JobStart, JobEnd)
	if !slices.Equal(afterEdit, want) {
		t.Fatalf("expected %v, got %v", want, afterEdit)
	}
	for _, j := range h.sched.Armed() {
		if j.Name == JobName(JobStart, "77") && !j.At.Equal(newStart) {
			t.Fatalf("start job armed at %s, expected %s", j.At, newStart)
		}
	}

	if _, err := h.svc.RescheduleAll(ctx); err != nil {
		t.Fatalf("reschedule all: %v", err)
	}
	if got := h.armedNames(); !slices.Equal(got, afterEdit) {
		t.Fatalf("recovery changed the armed set: %v vs %v", got, afterEdit)
	}

	if len(h.tracker.edits) != 1 {
		t.Fatalf("expected one tracker edit, got %d", len(h.tracker.edits))
	}
	edit := h.tracker.edits[0]
	if edit.Code != "code-77" || !edit.In.StartsAt.Equal(newStart) || !edit.In.EndsAt.Equal(newEnd) {
		t.Fatalf("unexpected tracker edit %+v", edit)
	}
}

func TestCancelAndRescheduleRewindsFinished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedResolved(t, "77", testNow.Add(-8*24*time.Hour), testNow.Add(-24*time.Hour), models.StatusCompetitionFinished)

	start := testNow.Add(5 * 24 * time.Hour)
	updated, err := h.svc.CancelAndReschedule(ctx, "77", start, start.Add(7*24*time.Hour))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if updated.Status != models.StatusPollFinished {
		t.Fatalf("expected rewind to poll_finished, got %s", updated.Status)
	}
	if len(h.sched.Armed()) != 5 {
		t.Fatalf("expected 5 jobs, got %v", h.armedNames())
	}
}

func TestCancelAndRescheduleValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)

	if _, err := h.svc.CancelAndReschedule(ctx, "77", start, start); !errors.Is(err, ErrInvalidTimes) {
		t.Fatalf("expected ErrInvalidTimes, got %v", err)
	}
	if _, err := h.svc.CancelAndReschedule(ctx, "missing", start, start.Add(time.Hour)); !errors.Is(err, ErrCompetitionNotFound) {
		t.Fatalf("expected ErrCompetitionNotFound, got %v", err)
	}

	comp := h.seedResolved(t, "78", start, start.Add(time.Hour), models.StatusPollFinished)
	// Upsert would inherit the stored code for the same tracker ID, so clear it in place.
	h.store.mu.Lock()
	stored := h.store.comps[comp.ID]
	stored.VerificationCode = ""
	h.store.comps[comp.ID] = stored
	h.store.mu.Unlock()

	if _, err := h.svc.CancelAndReschedule(ctx, "78", start, start.Add(2*time.Hour)); !errors.Is(err, ErrMissingVerificationCode) {
		t.Fatalf("expected ErrMissingVerificationCode, got %v", err)
	}
	if len(h.tracker.edits) != 0 {
		t.Fatal("tracker must not be edited without a verification code")
	}
}

func TestTrackerEditFailureKeepsTimers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)
	comp := h.seedResolved(t, "77", start, start.Add(7*24*time.Hour), models.StatusPollFinished)
	h.svc.scheduleJobs(comp)
	h.tracker.editErr = errors.New("tracker down")

	if _, err := h.svc.CancelAndReschedule(ctx, "77", start.Add(time.Hour), start.Add(48*time.Hour)); err == nil {
		t.Fatal("expected edit failure")
	}
	if len(h.sched.Armed()) != 5 {
		t.Fatalf("existing timers must stay armed, got %v", h.armedNames())
	}
	if got := h.reload(t, "77"); !got.StartsAt.Equal(start) {
		t.Fatalf("stored start changed to %s", got.StartsAt)
	}
}

func TestRecoveryRunsOverdueHandlers(t *testing.T) {
	h := newHarness(t)
	h.seedResolved(t, "ended", testNow.Add(-8*24*time.Hour), testNow.Add(-24*time.Hour), models.StatusCompetitionStarted)
	h.seedResolved(t, "running", testNow.Add(-time.Hour), testNow.Add(6*24*time.Hour), models.StatusSentReminder)
	h.tracker.details["ended"] = &CompetitionDetails{
		ID:             "ended",
		Participations: []Participation{{DisplayName: "Zezima", Gained: 10}},
	}

	report, err := h.svc.RescheduleAll(context.Background())
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if report.HandlersRun != 2 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := h.reload(t, "ended").Status; got != models.StatusCompetitionFinished {
		t.Fatalf("expected ended competition finished, got %s", got)
	}
	if got := h.reload(t, "running").Status; got != models.StatusCompetitionStarted {
		t.Fatalf("expected running competition started, got %s", got)
	}
	want := jobNames("running", JobPreEnd, JobEnd)
	if got := h.armedNames(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestRecoveryContinuesPastFailures(t *testing.T) {
	h := newHarness(t)
	h.seedResolved(t, "ended", testNow.Add(-8*24*time.Hour), testNow.Add(-24*time.Hour), models.StatusCompetitionStarted)
	start := testNow.Add(72 * time.Hour)
	h.seedResolved(t, "future", start, start.Add(7*24*time.Hour), models.StatusPollFinished)
	h.tracker.detailsErr = errors.New("tracker down")

	report, err := h.svc.RescheduleAll(context.Background())
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected one failure, got %v", report.Errors)
	}
	if got := h.reload(t, "ended").Status; got != models.StatusCompetitionStarted {
		t.Fatalf("failed competition must keep its status, got %s", got)
	}
	if report.JobsArmed != 5 {
		t.Fatalf("expected the healthy competition armed, got %d", report.JobsArmed)
	}
}

func TestRecoveryProcessesPollsFinishedOffline(t *testing.T) {
	h := newHarness(t)
	h.seedPoll(t, "poll-a")
	h.votes.finalize("poll-a", TallyEntry{Label: "Slayer", Votes: 3})

	report, err := h.svc.RescheduleAll(context.Background())
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if report.PollsProcessed != 1 {
		t.Fatalf("expected one poll processed, got %+v", report)
	}
	if got := h.reload(t, "1001").Metric; got != "slayer" {
		t.Fatalf("expected slayer, got %q", got)
	}
	if len(h.sched.Armed()) != 5 {
		t.Fatalf("expected 5 jobs, got %v", h.armedNames())
	}
}

func TestSyncTimesAppliesTrackerTimes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)
	comp := h.seedResolved(t, "77", start, start.Add(7*24*time.Hour), models.StatusPollFinished)
	h.svc.scheduleJobs(comp)

	h.tracker.details["77"] = &CompetitionDetails{ID: "77", StartsAt: start, EndsAt: start.Add(7 * 24 * time.Hour)}
	if _, changed, err := h.svc.SyncTimes(ctx, "77"); err != nil || changed {
		t.Fatalf("expected no change, got changed=%v err=%v", changed, err)
	}

	moved := start.Add(24 * time.Hour)
	h.tracker.details["77"] = &CompetitionDetails{ID: "77", StartsAt: moved, EndsAt: moved.Add(7 * 24 * time.Hour)}
	updated, changed, err := h.svc.SyncTimes(ctx, "77")
	if err != nil || !changed {
		t.Fatalf("expected change, got changed=%v err=%v", changed, err)
	}
	if !updated.StartsAt.Equal(moved) {
		t.Fatalf("expected start %s, got %s", moved, updated.StartsAt)
	}
	if len(h.tracker.edits) != 0 {
		t.Fatal("sync must not edit the tracker")
	}
	for _, j := range h.sched.Armed() {
		if j.Name == JobName(JobStart, "77") && !j.At.Equal(moved) {
			t.Fatalf("start job still armed at %s", j.At)
		}
	}
}

func TestWatcherPassRetriesFailedEndHandler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(-7 * 24 * time.Hour)
	h.seedResolved(t, "77", start, testNow.Add(-time.Minute), models.StatusCompetitionStarted)
	h.tracker.detailsErr = errors.New("tracker down")

	h.svc.runJob(ctx, JobEnd, "77")
	if got := h.reload(t, "77").Status; got != models.StatusCompetitionStarted {
		t.Fatalf("failed end handler must keep status, got %s", got)
	}
	if len(h.announcer.messages()) != 0 {
		t.Fatal("no results expected while the tracker is down")
	}

	h.tracker.mu.Lock()
	h.tracker.detailsErr = nil
	h.tracker.details["77"] = &CompetitionDetails{
		ID:             "77",
		Participations: []Participation{{DisplayName: "Zezima", Gained: 4200}},
	}
	h.tracker.mu.Unlock()

	report, err := h.svc.RescheduleAll(ctx)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if report.HandlersRun != 1 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := h.reload(t, "77").Status; got != models.StatusCompetitionFinished {
		t.Fatalf("expected finished after retry, got %s", got)
	}
	msgs := h.announcer.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "Zezima") {
		t.Fatalf("expected one winners announcement, got %+v", msgs)
	}
}

// staleListStore changes a row right after List has returned its copies, the
// way a concurrent reschedule could between listing and arming.
type staleListStore struct {
	CompetitionStore
	once   sync.Once
	mutate func()
}

func (s *staleListStore) List(ctx context.Context, statuses ...models.CompetitionStatus) ([]models.Competition, error) {
	comps, err := s.CompetitionStore.List(ctx, statuses...)
	s.once.Do(s.mutate)
	return comps, err
}

func TestRecoveryArmsFromReloadedRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)
	h.seedResolved(t, "77", start, start.Add(7*24*time.Hour), models.StatusPollFinished)

	newStart := testNow.Add(2 * time.Hour)
	newEnd := newStart.Add(7 * 24 * time.Hour)
	h.svc.store = &staleListStore{
		CompetitionStore: h.store,
		mutate: func() {
			comp := h.reload(t, "77")
			comp.StartsAt, comp.EndsAt = &newStart, &newEnd
			comp.Status = models.StatusSentReminder
			if err := h.store.Upsert(ctx, comp); err != nil {
				t.Errorf("update row: %v", err)
			}
		},
	}

	report, err := h.svc.RescheduleAll(ctx)
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	want := jobNames("77", JobPreStart, JobPreEnd, JobStart, JobEnd)
	if got := h.armedNames(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if report.JobsArmed != 4 {
		t.Fatalf("expected 4 jobs armed, got %d", report.JobsArmed)
	}
	for _, j := range h.sched.Armed() {
		if j.Name == JobName(JobStart, "77") && !j.At.Equal(newStart) {
			t.Fatalf("start armed at stale instant %s", j.At)
		}
	}
}
