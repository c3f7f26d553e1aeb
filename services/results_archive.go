package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"competition-lifecycle/utils"

	"github.com/gosimple/slug"
)

// Standing is one placed participant.
type Standing struct {
	Rank        int    `json:"rank"`
	DisplayName string `json:"display_name"`
	Gained      int64  `json:"gained"`
}

// CompetitionResults is the archived record of a finished competition.
type CompetitionResults struct {
	GuildID       string     `json:"guild_id"`
	CompetitionID string     `json:"competition_id"`
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Metric        string     `json:"metric"`
	StartsAt      time.Time  `json:"starts_at"`
	EndsAt        time.Time  `json:"ends_at"`
	FinishedAt    time.Time  `json:"finished_at"`
	Standings     []Standing `json:"standings"`
}

// ObjectPutter uploads JSON documents. utils.R2Client satisfies it.
type ObjectPutter interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

// ObjectResultsArchive writes results as JSON objects under
// <prefix>/<guild>/<competition id>-<title slug>.json.
type ObjectResultsArchive struct {
	objects ObjectPutter
	prefix  string
	logger  *slog.Logger
}

func NewObjectResultsArchive(objects ObjectPutter, prefix string, logger *slog.Logger) *ObjectResultsArchive {
	if prefix == "" {
		prefix = "competition-results"
	}
	return &ObjectResultsArchive{
		objects: objects,
		prefix:  strings.Trim(prefix, "/"),
		logger:  utils.ResolveLogger(logger).With("component", "results_archive"),
	}
}

// ObjectKey is where the results of a competition are stored.
func (a *ObjectResultsArchive) ObjectKey(r CompetitionResults) string {
	name := r.CompetitionID
	if s := slug.Make(r.Title); s != "" {
		name += "-" + s
	}
	return path.Join(a.prefix, r.GuildID, name+".json")
}

func (a *ObjectResultsArchive) ArchiveResults(ctx context.Context, r CompetitionResults) error {
	key := a.ObjectKey(r)
	url, err := a.objects.PutJSON(ctx, key, r)
	if err != nil {
		return fmt.Errorf("archive results of %s: %w", r.CompetitionID, err)
	}
	a.logger.Info("results archived", "competition_id", r.CompetitionID, "url", url)
	return nil
}
