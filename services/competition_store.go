package services

import (
	"context"
	"errors"
	"fmt"

	"competition-lifecycle/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCompetitionStore persists competitions and guild settings through gorm.
type GormCompetitionStore struct {
	DB *gorm.DB
}

func NewGormCompetitionStore(db *gorm.DB) *GormCompetitionStore {
	return &GormCompetitionStore{DB: db}
}

// AutoMigrate creates or updates the tables the store needs.
func (s *GormCompetitionStore) AutoMigrate() error {
	return s.DB.AutoMigrate(&models.Competition{}, &models.CompetitionSettings{})
}

func (s *GormCompetitionStore) Get(ctx context.Context, competitionID string) (*models.Competition, error) {
	var comp models.Competition
	err := s.DB.WithContext(ctx).First(&comp, "competition_id = ?", competitionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompetitionNotFound
		}
		return nil, fmt.Errorf("load competition %s: %w", competitionID, err)
	}
	return &comp, nil
}

func (s *GormCompetitionStore) GetByPoll(ctx context.Context, pollMessageID string) (*models.Competition, error) {
	var comp models.Competition
	err := s.DB.WithContext(ctx).
		Where("poll_message_id = ? OR tiebreaker_poll_message_id = ?", pollMessageID, pollMessageID).
		First(&comp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompetitionNotFound
		}
		return nil, fmt.Errorf("load competition for poll %s: %w", pollMessageID, err)
	}
	return &comp, nil
}

func (s *GormCompetitionStore) List(ctx context.Context, statuses ...models.CompetitionStatus) ([]models.Competition, error) {
	var comps []models.Competition
	q := s.DB.WithContext(ctx).Order("id ASC")
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Find(&comps).Error; err != nil {
		return nil, fmt.Errorf("list competitions: %w", err)
	}
	return comps, nil
}

func (s *GormCompetitionStore) ListByGuild(ctx context.Context, guildID string) ([]models.Competition, error) {
	var comps []models.Competition
	err := s.DB.WithContext(ctx).Where("guild_id = ?", guildID).Order("id ASC").Find(&comps).Error
	if err != nil {
		return nil, fmt.Errorf("list competitions for guild %s: %w", guildID, err)
	}
	return comps, nil
}

// Upsert inserts new rows and saves existing ones. A row without a verification
// code inherits the one stored for the same tracker ID.
func (s *GormCompetitionStore) Upsert(ctx context.Context, comp *models.Competition) error {
	db := s.DB.WithContext(ctx)
	if comp.VerificationCode == "" && comp.ExternalID() != "" {
		var existing models.Competition
		err := db.Select("verification_code").First(&existing, "competition_id = ?", comp.ExternalID()).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load verification code for %s: %w", comp.ExternalID(), err)
		}
		comp.VerificationCode = existing.VerificationCode
	}

	if comp.ID == 0 {
		if err := db.Create(comp).Error; err != nil {
			return fmt.Errorf("insert competition for poll %s: %w", comp.PollMessageID, err)
		}
		return nil
	}
	if err := db.Save(comp).Error; err != nil {
		return fmt.Errorf("save competition %d: %w", comp.ID, err)
	}
	return nil
}

func (s *GormCompetitionStore) Delete(ctx context.Context, comp *models.Competition) error {
	if err := s.DB.WithContext(ctx).Delete(&models.Competition{}, comp.ID).Error; err != nil {
		return fmt.Errorf("delete competition %d: %w", comp.ID, err)
	}
	return nil
}

func (s *GormCompetitionStore) GetSettings(ctx context.Context, guildID string) (*models.CompetitionSettings, error) {
	var settings models.CompetitionSettings
	err := s.DB.WithContext(ctx).First(&settings, "guild_id = ?", guildID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load settings for guild %s: %w", guildID, err)
	}
	return &settings, nil
}

func (s *GormCompetitionStore) SaveSettings(ctx context.Context, settings *models.CompetitionSettings) error {
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}},
		UpdateAll: true,
	}).Create(settings).Error
	if err != nil {
		return fmt.Errorf("save settings for guild %s: %w", settings.GuildID, err)
	}
	return nil
}
