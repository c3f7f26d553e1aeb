package services

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"competition-lifecycle/models"
)

// MemoryStore keeps competitions and settings in process memory. It backs
// STORE_DRIVER=memory and the tests; state does not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint
	comps    map[uint]models.Competition
	settings map[string]models.CompetitionSettings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		comps:    make(map[uint]models.Competition),
		settings: make(map[string]models.CompetitionSettings),
	}
}

func (s *MemoryStore) Get(ctx context.Context, competitionID string) (*models.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.comps {
		if c.ExternalID() == competitionID && competitionID != "" {
			return cloneCompetition(c), nil
		}
	}
	return nil, ErrCompetitionNotFound
}

func (s *MemoryStore) GetByPoll(ctx context.Context, pollMessageID string) (*models.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.comps {
		if c.PollMessageID == pollMessageID ||
			(c.TiebreakerPollMessageID != nil && *c.TiebreakerPollMessageID == pollMessageID) {
			return cloneCompetition(c), nil
		}
	}
	return nil, ErrCompetitionNotFound
}

func (s *MemoryStore) List(ctx context.Context, statuses ...models.CompetitionStatus) ([]models.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Competition, 0, len(s.comps))
	for _, c := range s.comps {
		if len(statuses) > 0 && !slices.Contains(statuses, c.Status) {
			continue
		}
		out = append(out, *cloneCompetition(c))
	}
	slices.SortFunc(out, func(a, b models.Competition) int { return int(a.ID) - int(b.ID) })
	return out, nil
}

func (s *MemoryStore) ListByGuild(ctx context.Context, guildID string) ([]models.Competition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Competition
	for _, c := range s.comps {
		if c.GuildID == guildID {
			out = append(out, *cloneCompetition(c))
		}
	}
	slices.SortFunc(out, func(a, b models.Competition) int { return int(a.ID) - int(b.ID) })
	return out, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, comp *models.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if comp.VerificationCode == "" && comp.ExternalID() != "" {
		for _, c := range s.comps {
			if c.ExternalID() == comp.ExternalID() {
				comp.VerificationCode = c.VerificationCode
				break
			}
		}
	}
	if comp.ID == 0 {
		for id, c := range s.comps {
			if c.PollMessageID == comp.PollMessageID {
				comp.ID, comp.CreatedAt = id, c.CreatedAt
				break
			}
		}
	}
	now := time.Now()
	if comp.ID == 0 {
		s.nextID++
		comp.ID = s.nextID
		comp.CreatedAt = now
	}
	comp.UpdatedAt = now
	s.comps[comp.ID] = *cloneCompetition(*comp)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, comp *models.Competition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.comps, comp.ID)
	return nil
}

func (s *MemoryStore) GetSettings(ctx context.Context, guildID string) (*models.CompetitionSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[guildID]
	if !ok {
		return nil, nil
	}
	return cloneSettings(settings), nil
}

func (s *MemoryStore) SaveSettings(ctx context.Context, settings *models.CompetitionSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings.UpdatedAt = time.Now()
	stored := cloneSettings(*settings)
	stored.GuildID = strings.Clone(settings.GuildID)
	s.settings[stored.GuildID] = *stored
	return nil
}

func cloneCompetition(c models.Competition) *models.Competition {
	out := c
	out.CompetitionID = clonePtr(c.CompetitionID)
	out.TiebreakerPollMessageID = clonePtr(c.TiebreakerPollMessageID)
	out.StartsAt = clonePtr(c.StartsAt)
	out.EndsAt = clonePtr(c.EndsAt)
	return &out
}

func cloneSettings(s models.CompetitionSettings) *models.CompetitionSettings {
	out := s
	out.DaysAfterPoll = clonePtr(s.DaysAfterPoll)
	out.TiebreakerPollDuration = clonePtr(s.TiebreakerPollDuration)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
