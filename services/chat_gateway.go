package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"competition-lifecycle/utils"
)

// ChatGatewayClient talks to the chat bridge that owns the bot connection. It
// opens polls, reads their results and posts announcements.
type ChatGatewayClient struct {
	BaseURL string
	caller  *jsonCaller
}

// ChatGatewayOptions configures ChatGatewayClient.
type ChatGatewayOptions struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	RetryAttempts int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

func NewChatGatewayClient(opts ChatGatewayOptions) (*ChatGatewayClient, error) {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		return nil, errors.New("chat gateway base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse chat gateway base url: %w", err)
	}
	client := opts.HTTPClient
	if client == nil {
		client = utils.NewHTTPClient(opts.Timeout)
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("X-Service-Token", opts.Token)
	}
	return &ChatGatewayClient{
		BaseURL: base,
		caller: &jsonCaller{
			service:         "chat gateway",
			client:          client,
			attempts:        opts.RetryAttempts,
			header:          header,
			logger:          utils.ResolveLogger(opts.Logger).With("component", "chat_gateway"),
			idempotencyKeys: true,
		},
	}, nil
}

type pollRequest struct {
	ChannelID        string       `json:"channelId"`
	Question         string       `json:"question"`
	Answers          []VoteOption `json:"answers"`
	DurationHours    int          `json:"durationHours"`
	AllowMultiselect bool         `json:"allowMultiselect"`
}

type pollResponse struct {
	ID        string       `json:"id"`
	Finalized bool         `json:"finalized"`
	Answers   []pollAnswer `json:"answers"`
}

type pollAnswer struct {
	Text      string `json:"text"`
	Emoji     string `json:"emoji,omitempty"`
	VoteCount int    `json:"voteCount"`
}

type messageRequest struct {
	ChannelID string `json:"channelId"`
	Content   string `json:"content"`
}

type messageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	Link      string `json:"link"`
}

func (c *ChatGatewayClient) OpenVote(ctx context.Context, in OpenVoteInput) (string, error) {
	var out pollResponse
	err := c.caller.do(ctx, http.MethodPost, c.BaseURL+"/polls", pollRequest{
		ChannelID:        in.ChannelID,
		Question:         in.Question,
		Answers:          in.Options,
		DurationHours:    in.DurationHours,
		AllowMultiselect: in.AllowMultiple,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("chat gateway returned a poll without an id")
	}
	return out.ID, nil
}

func (c *ChatGatewayClient) IsFinalized(ctx context.Context, voteID string) (bool, error) {
	poll, err := c.poll(ctx, voteID)
	if err != nil {
		return false, err
	}
	return poll.Finalized, nil
}

func (c *ChatGatewayClient) Tally(ctx context.Context, voteID string) ([]TallyEntry, error) {
	poll, err := c.poll(ctx, voteID)
	if err != nil {
		return nil, err
	}
	tally := make([]TallyEntry, 0, len(poll.Answers))
	for _, a := range poll.Answers {
		tally = append(tally, TallyEntry{Label: a.Text, Emoji: a.Emoji, Votes: a.VoteCount})
	}
	return tally, nil
}

func (c *ChatGatewayClient) poll(ctx context.Context, voteID string) (*pollResponse, error) {
	var out pollResponse
	err := c.caller.do(ctx, http.MethodGet, c.BaseURL+"/polls/"+url.PathEscape(voteID), nil, &out)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("poll %s: %w", voteID, ErrVoteNotFound)
		}
		return nil, err
	}
	return &out, nil
}

func (c *ChatGatewayClient) Announce(ctx context.Context, channelID, content string) (*PostedMessage, error) {
	var out messageResponse
	err := c.caller.do(ctx, http.MethodPost, c.BaseURL+"/messages", messageRequest{
		ChannelID: channelID,
		Content:   content,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &PostedMessage{ID: out.ID, ChannelID: out.ChannelID, Link: out.Link}, nil
}
