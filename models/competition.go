package models

import (
	"time"
)

// CompetitionStatus is the lifecycle position of a hosted competition.
// Values only move forward, except through an administrative time edit.
type CompetitionStatus int

const (
	StatusPollStarted           CompetitionStatus = 1
	StatusTiebreakerPollStarted CompetitionStatus = 2
	StatusPollFinished          CompetitionStatus = 3
	StatusSentReminder          CompetitionStatus = 4
	StatusCompetitionStarted    CompetitionStatus = 5
	StatusCompetitionFinished   CompetitionStatus = 6
)

func (s CompetitionStatus) String() string {
	switch s {
	case StatusPollStarted:
		return "poll_started"
	case StatusTiebreakerPollStarted:
		return "tiebreaker_poll_started"
	case StatusPollFinished:
		return "poll_finished"
	case StatusSentReminder:
		return "sent_reminder"
	case StatusCompetitionStarted:
		return "competition_started"
	case StatusCompetitionFinished:
		return "competition_finished"
	default:
		return "unknown"
	}
}

// Competition types offered by the host-competition flow.
const (
	CompetitionTypeSkill = "Skill of the Week"
	CompetitionTypeBoss  = "Boss of the Week"
)

// Competition tracks one poll-to-results cycle for a guild.
// CompetitionID stays nil until the poll winner has been created on the tracker;
// once set, StartsAt and EndsAt are set as well.
type Competition struct {
	ID                      uint              `json:"id" gorm:"primaryKey"`
	GuildID                 string            `json:"guild_id" gorm:"not null;index"`
	CompetitionID           *string           `json:"competition_id,omitempty" gorm:"uniqueIndex"`
	Type                    string            `json:"type" gorm:"not null"`
	Title                   string            `json:"title"`
	Metric                  string            `json:"metric"`
	WinningOption           string            `json:"winning_option,omitempty"`
	VerificationCode        string            `json:"-" gorm:"column:verification_code"`
	StartsAt                *time.Time        `json:"starts_at,omitempty"`
	EndsAt                  *time.Time        `json:"ends_at,omitempty"`
	StartingHour            string            `json:"starting_hour" gorm:"default:'12:00pm'"`
	PollMessageID           string            `json:"poll_message_id" gorm:"not null;uniqueIndex"`
	TiebreakerPollMessageID *string           `json:"tiebreaker_poll_message_id,omitempty" gorm:"index"`
	TiebreakerRounds        int               `json:"tiebreaker_rounds" gorm:"default:0"`
	Status                  CompetitionStatus `json:"status" gorm:"not null;index"`
	MessageLink             string            `json:"message_link,omitempty"`
	Emoji                   string            `json:"emoji,omitempty"`
	CreatedAt               time.Time         `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt               time.Time         `json:"updated_at" gorm:"autoUpdateTime"`
}

// IsResolved reports whether the poll winner has been created on the tracker.
func (c *Competition) IsResolved() bool {
	return c.CompetitionID != nil && *c.CompetitionID != "" && c.StartsAt != nil && c.EndsAt != nil
}

// ExternalID returns the tracker ID or "" while unresolved.
func (c *Competition) ExternalID() string {
	if c.CompetitionID == nil {
		return ""
	}
	return *c.CompetitionID
}

// ActivePollID is the vote currently deciding the competition: the tiebreaker when one exists.
func (c *Competition) ActivePollID() string {
	if c.TiebreakerPollMessageID != nil && *c.TiebreakerPollMessageID != "" {
		return *c.TiebreakerPollMessageID
	}
	return c.PollMessageID
}

// CompetitionSettings is the per-guild configuration consumed by the lifecycle.
type CompetitionSettings struct {
	GuildID                string    `json:"guild_id" gorm:"primaryKey"`
	EventPlanningChannelID string    `json:"event_planning_channel_id"`
	AnnouncementsChannelID string    `json:"announcements_channel_id"`
	ClanEventsRoleID       string    `json:"clan_events_role_id"`
	SkillBlacklist         string    `json:"skill_blacklist" gorm:"type:text"` // comma separated metric keys
	BossBlacklist          string    `json:"boss_blacklist" gorm:"type:text"`
	LastChosenMetric       string    `json:"last_chosen_metric" gorm:"type:text"`
	DaysAfterPoll          *int      `json:"days_after_poll,omitempty"`
	TiebreakerPollDuration *int      `json:"tiebreaker_poll_duration,omitempty"` // days
	UpdatedAt              time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
