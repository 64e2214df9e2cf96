package store

import (
	"context"

	"github.com/seantiz/partstock/internal/model"
)

// UpsertResult reports what UpsertPart did.
type UpsertResult struct {
	Part    *model.Part
	Created bool
}

// Store defines the persistence operations for parts.
type Store interface {
	UpsertPart(ctx context.Context, p *model.Part) (UpsertResult, error)
	GetPart(ctx context.Context, id string) (*model.Part, error)
	ListParts(ctx context.Context, limit, offset int) ([]*model.Part, int, error)
	Close() error
}
