package storage

import (
	"context"

	"reflector/internal/model"
)

// Store persists search runs: the run header, its per-generation history and
// the best organism found.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveGenerations(ctx context.Context, runID string, generations []model.GenerationRecord) error
	GetGenerations(ctx context.Context, runID string) ([]model.GenerationRecord, bool, error)
	SaveBestOrganism(ctx context.Context, record model.BestOrganismRecord) error
	GetBestOrganism(ctx context.Context, runID string) (model.BestOrganismRecord, bool, error)
}
