package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"competition-lifecycle/utils"
)

// WiseOldManClient is the CompetitionClient backed by the Wise Old Man v2 API.
type WiseOldManClient struct {
	BaseURL string
	caller  *jsonCaller
}

// WiseOldManOptions configures WiseOldManClient.
type WiseOldManOptions struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RetryAttempts int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

func NewWiseOldManClient(opts WiseOldManOptions) (*WiseOldManClient, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, errors.New("wise old man base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse wise old man base url: %w", err)
	}
	client := opts.HTTPClient
	if client == nil {
		client = utils.NewHTTPClient(opts.Timeout)
	}
	header := http.Header{}
	header.Set("User-Agent", "competition-lifecycle")
	if opts.APIKey != "" {
		header.Set("x-api-key", opts.APIKey)
	}
	return &WiseOldManClient{
		BaseURL: base,
		caller: &jsonCaller{
			service:  "wise old man",
			client:   client,
			attempts: opts.RetryAttempts,
			header:   header,
			logger:   utils.ResolveLogger(opts.Logger).With("component", "tracker_client"),
		},
	}, nil
}

type womCreateRequest struct {
	Title        string    `json:"title"`
	Metric       string    `json:"metric"`
	StartsAt     time.Time `json:"startsAt"`
	EndsAt       time.Time `json:"endsAt"`
	Participants []string  `json:"participants"`
}

type womCompetition struct {
	ID             json.Number        `json:"id"`
	Title          string             `json:"title"`
	Metric         string             `json:"metric"`
	StartsAt       time.Time          `json:"startsAt"`
	EndsAt         time.Time          `json:"endsAt"`
	Participations []womParticipation `json:"participations"`
}

type womParticipation struct {
	Player struct {
		DisplayName string `json:"displayName"`
	} `json:"player"`
	Progress struct {
		Gained float64 `json:"gained"`
	} `json:"progress"`
}

type womCreateResponse struct {
	Competition      womCompetition `json:"competition"`
	VerificationCode string         `json:"verificationCode"`
}

type womEditRequest struct {
	Title            string     `json:"title,omitempty"`
	StartsAt         *time.Time `json:"startsAt,omitempty"`
	EndsAt           *time.Time `json:"endsAt,omitempty"`
	VerificationCode string     `json:"verificationCode"`
}

// CreateCompetition is sent once. A retried POST whose first response was lost
// would create a second competition; the caller's catch-up pass retries instead.
func (c *WiseOldManClient) CreateCompetition(ctx context.Context, in CreateCompetitionInput) (*CreatedCompetition, error) {
	participants := in.Participants
	if participants == nil {
		participants = []string{}
	}
	var out womCreateResponse
	err := c.caller.doOnce(ctx, http.MethodPost, c.BaseURL+"/competitions", womCreateRequest{
		Title:        in.Title,
		Metric:       in.Metric,
		StartsAt:     in.StartsAt.UTC(),
		EndsAt:       in.EndsAt.UTC(),
		Participants: participants,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Competition.ID == "" {
		return nil, errors.New("wise old man returned a competition without an id")
	}
	return &CreatedCompetition{
		ID:               out.Competition.ID.String(),
		Title:            out.Competition.Title,
		VerificationCode: out.VerificationCode,
	}, nil
}

func (c *WiseOldManClient) EditCompetition(ctx context.Context, competitionID string, in EditCompetitionInput, verificationCode string) error {
	if verificationCode == "" {
		return ErrMissingVerificationCode
	}
	req := womEditRequest{Title: in.Title, VerificationCode: verificationCode}
	if in.StartsAt != nil {
		t := in.StartsAt.UTC()
		req.StartsAt = &t
	}
	if in.EndsAt != nil {
		t := in.EndsAt.UTC()
		req.EndsAt = &t
	}
	return c.caller.do(ctx, http.MethodPut, c.competitionURL(competitionID), req, nil)
}

func (c *WiseOldManClient) GetCompetitionDetails(ctx context.Context, competitionID string) (*CompetitionDetails, error) {
	var out womCompetition
	if err := c.caller.do(ctx, http.MethodGet, c.competitionURL(competitionID), nil, &out); err != nil {
		return nil, err
	}
	details := &CompetitionDetails{
		ID:             out.ID.String(),
		Title:          out.Title,
		Metric:         out.Metric,
		StartsAt:       out.StartsAt,
		EndsAt:         out.EndsAt,
		Participations: make([]Participation, 0, len(out.Participations)),
	}
	for _, p := range out.Participations {
		details.Participations = append(details.Participations, Participation{
			DisplayName: p.Player.DisplayName,
			Gained:      int64(p.Progress.Gained),
		})
	}
	return details, nil
}

func (c *WiseOldManClient) competitionURL(competitionID string) string {
	return c.BaseURL + "/competitions/" + url.PathEscape(competitionID)
}
