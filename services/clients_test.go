package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestTracker(t *testing.T, handler http.HandlerFunc) *WiseOldManClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewWiseOldManClient(WiseOldManOptions{
		BaseURL:       srv.URL,
		APIKey:        "secret",
		RetryAttempts: 3,
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.caller.initialInterval = time.Millisecond
	return c
}

func TestWiseOldManCreateCompetition(t *testing.T) {
	start := time.Date(2031, 3, 10, 14, 0, 0, 0, time.UTC)
	c := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/competitions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "secret" {
			t.Errorf("missing api key header")
		}
		var body womCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Metric != "attack" || !body.StartsAt.Equal(start) || len(body.Participants) != 1 {
			t.Errorf("unexpected body %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"competition":{"id":4821,"title":"Skill of the Week: Attack"},"verificationCode":"111-222-333"}`))
	})

	created, err := c.CreateCompetition(context.Background(), CreateCompetitionInput{
		Title:        "Skill of the Week: Attack",
		Metric:       "attack",
		StartsAt:     start,
		EndsAt:       start.Add(7 * 24 * time.Hour),
		Participants: []string{"I Earn Solo"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != "4821" || created.VerificationCode != "111-222-333" {
		t.Fatalf("unexpected result %+v", created)
	}
}

func TestWiseOldManRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":7,"title":"t","participations":[{"player":{"displayName":"Zezima"},"progress":{"gained":1500}}]}`))
	})

	details, err := c.GetCompetitionDetails(context.Background(), "7")
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(details.Participations) != 1 || details.Participations[0].Gained != 1500 {
		t.Fatalf("unexpected details %+v", details)
	}
}

func TestWiseOldManCreateIsNotRetried(t *testing.T) {
	var posts atomic.Int32
	c := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
		}
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	start := time.Date(2031, 3, 10, 14, 0, 0, 0, time.UTC)
	_, err := c.CreateCompetition(context.Background(), CreateCompetitionInput{
		Title:    "Boss of the Week: Vorkath",
		Metric:   "vorkath",
		StartsAt: start,
		EndsAt:   start.Add(7 * 24 * time.Hour),
	})
	if !IsStatus(err, http.StatusBadGateway) {
		t.Fatalf("expected 502 status error, got %v", err)
	}
	if posts.Load() != 1 {
		t.Fatalf("expected exactly one POST, got %d", posts.Load())
	}
}

func TestWiseOldManDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"Incorrect verification code."}`, http.StatusForbidden)
	})

	start := time.Now()
	err := c.EditCompetition(context.Background(), "7", EditCompetitionInput{StartsAt: &start}, "bad")
	if !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("expected 403 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestWiseOldManEditRequiresCode(t *testing.T) {
	c := newTestTracker(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("tracker must not be called")
	})
	if err := c.EditCompetition(context.Background(), "7", EditCompetitionInput{}, ""); !errors.Is(err, ErrMissingVerificationCode) {
		t.Fatalf("expected ErrMissingVerificationCode, got %v", err)
	}
}

func newTestGateway(t *testing.T, handler http.HandlerFunc) *ChatGatewayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewChatGatewayClient(ChatGatewayOptions{
		BaseURL:       srv.URL,
		Token:         "svc-token",
		RetryAttempts: 2,
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	c.caller.initialInterval = time.Millisecond
	return c
}

func TestChatGatewayPollLifecycle(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Service-Token") != "svc-token" {
			t.Errorf("missing service token")
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/polls":
			if r.Header.Get("Idempotency-Key") == "" {
				t.Errorf("expected idempotency key on poll creation")
			}
			var body pollRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			if len(body.Answers) != 2 || body.Answers[0].Label != "Attack" || body.DurationHours != 72 {
				t.Errorf("unexpected poll body %+v", body)
			}
			_, _ = w.Write([]byte(`{"id":"poll-55"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/polls/poll-55":
			_, _ = w.Write([]byte(`{"id":"poll-55","finalized":true,"answers":[{"text":"Attack","voteCount":4},{"text":"Fishing","emoji":"fishing_skill","voteCount":1}]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/polls/gone":
			http.NotFound(w, r)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})
	ctx := context.Background()

	id, err := c.OpenVote(ctx, OpenVoteInput{
		ChannelID:     "chan",
		Question:      "Vote",
		Options:       []VoteOption{{Label: "Attack", Emoji: "attack_skill"}, {Label: "Fishing"}},
		DurationHours: 72,
	})
	if err != nil || id != "poll-55" {
		t.Fatalf("open vote: id=%q err=%v", id, err)
	}
	done, err := c.IsFinalized(ctx, id)
	if err != nil || !done {
		t.Fatalf("finalized: %v %v", done, err)
	}
	tally, err := c.Tally(ctx, id)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	if len(tally) != 2 || tally[0].Votes != 4 || tally[1].Emoji != "fishing_skill" {
		t.Fatalf("unexpected tally %+v", tally)
	}
	if _, err := c.IsFinalized(ctx, "gone"); !errors.Is(err, ErrVoteNotFound) {
		t.Fatalf("expected ErrVoteNotFound, got %v", err)
	}
}

func TestChatGatewayAnnounce(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var body messageRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.ChannelID != "chan" || body.Content != "hello" {
			t.Errorf("unexpected message %+v", body)
		}
		_, _ = w.Write([]byte(`{"id":"m1","channelId":"chan","link":"https://discord.com/channels/g/chan/m1"}`))
	})
	posted, err := c.Announce(context.Background(), "chan", "hello")
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if posted.Link != "https://discord.com/channels/g/chan/m1" {
		t.Fatalf("unexpected link %q", posted.Link)
	}
}

type recordingPutter struct {
	key string
	doc any
}

func (r *recordingPutter) PutJSON(ctx context.Context, key string, v any) (string, error) {
	r.key, r.doc = key, v
	return "https://cdn.example.com/" + key, nil
}

func TestObjectResultsArchiveKey(t *testing.T) {
	putter := &recordingPutter{}
	archive := NewObjectResultsArchive(putter, "/results/", discardLogger())

	err := archive.ArchiveResults(context.Background(), CompetitionResults{
		GuildID:       "g1",
		CompetitionID: "4821",
		Title:         "Boss of the Week: Vorkath",
		Standings:     []Standing{{Rank: 1, DisplayName: "Zezima", Gained: 40}},
	})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if putter.key != "results/g1/4821-boss-of-the-week-vorkath.json" {
		t.Fatalf("unexpected key %q", putter.key)
	}
	if r, ok := putter.doc.(CompetitionResults); !ok || len(r.Standings) != 1 {
		t.Fatalf("unexpected document %#v", putter.doc)
	}
}
