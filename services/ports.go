package services

import (
	"context"
	"time"

	"competition-lifecycle/models"
)

// CompetitionStore is the durable record of every competition.
type CompetitionStore interface {
	// Get finds a competition by tracker ID.
	Get(ctx context.Context, competitionID string) (*models.Competition, error)
	// GetByPoll finds a competition by its poll or tiebreaker poll message ID.
	GetByPoll(ctx context.Context, pollMessageID string) (*models.Competition, error)
	List(ctx context.Context, statuses ...models.CompetitionStatus) ([]models.Competition, error)
	// ListByGuild returns every competition of a guild, oldest first.
	ListByGuild(ctx context.Context, guildID string) ([]models.Competition, error)
	Upsert(ctx context.Context, comp *models.Competition) error
	Delete(ctx context.Context, comp *models.Competition) error
}

// SettingsStore reads and writes per-guild competition settings.
// GetSettings returns nil without error when a guild has none.
type SettingsStore interface {
	GetSettings(ctx context.Context, guildID string) (*models.CompetitionSettings, error)
	SaveSettings(ctx context.Context, settings *models.CompetitionSettings) error
}

// CreateCompetitionInput describes a new tracker competition.
type CreateCompetitionInput struct {
	Title        string
	Metric       string
	StartsAt     time.Time
	EndsAt       time.Time
	Participants []string
}

// CreatedCompetition is what the tracker returns for a new competition.
type CreatedCompetition struct {
	ID               string
	Title            string
	VerificationCode string
}

// EditCompetitionInput carries the fields an edit may change.
type EditCompetitionInput struct {
	Title    string
	StartsAt *time.Time
	EndsAt   *time.Time
}

// Participation is one player's progress in a tracker competition.
type Participation struct {
	DisplayName string
	Gained      int64
}

// CompetitionDetails is the tracker's view of a competition.
type CompetitionDetails struct {
	ID             string
	Title          string
	Metric         string
	StartsAt       time.Time
	EndsAt         time.Time
	Participations []Participation
}

// CompetitionClient talks to the external competition tracker.
type CompetitionClient interface {
	CreateCompetition(ctx context.Context, in CreateCompetitionInput) (*CreatedCompetition, error)
	EditCompetition(ctx context.Context, competitionID string, in EditCompetitionInput, verificationCode string) error
	GetCompetitionDetails(ctx context.Context, competitionID string) (*CompetitionDetails, error)
}

// VoteOption is one answer offered in a vote.
type VoteOption struct {
	Label string `json:"text"`
	Emoji string `json:"emoji,omitempty"`
}

// OpenVoteInput describes a vote to open in a channel.
type OpenVoteInput struct {
	ChannelID     string
	Question      string
	Options       []VoteOption
	DurationHours int
	AllowMultiple bool
}

// TallyEntry is a finalized vote count for one option, in poll order.
type TallyEntry struct {
	Label string
	Emoji string
	Votes int
}

// VoteProvider opens votes and reports their results. A vote that no longer
// exists is reported with ErrVoteNotFound.
type VoteProvider interface {
	OpenVote(ctx context.Context, in OpenVoteInput) (string, error)
	IsFinalized(ctx context.Context, voteID string) (bool, error)
	Tally(ctx context.Context, voteID string) ([]TallyEntry, error)
}

// PostedMessage identifies a message the announcer sent.
type PostedMessage struct {
	ID        string
	ChannelID string
	Link      string
}

// Announcer publishes messages to guild channels.
type Announcer interface {
	Announce(ctx context.Context, channelID, content string) (*PostedMessage, error)
}

// ResultsArchive stores final standings outside the primary database.
type ResultsArchive interface {
	ArchiveResults(ctx context.Context, results CompetitionResults) error
}
