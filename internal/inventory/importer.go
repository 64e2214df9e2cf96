package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/seantiz/partstock/internal/engine"
	"github.com/seantiz/partstock/internal/model"
	"github.com/seantiz/partstock/internal/store"
)

// TaskKind is the engine task kind for part imports.
const TaskKind = "parts_import"

// StreamPrefix is the stream identifier prefix for per-part events.
const StreamPrefix = "part"

// EventPartUpdated is published on a part's stream after it is written.
const EventPartUpdated = "updated"

// EventSender is the part of the connection registry the importer uses.
type EventSender interface {
	SendEvent(ctx context.Context, identifier, name string, data any) bool
}

// Summary is the result of a completed import.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Importer writes import manifests to the parts store as background tasks.
type Importer struct {
	store  store.Store
	events EventSender
	logger *slog.Logger
}

// NewImporter creates an importer. events may be nil.
func NewImporter(s store.Store, events EventSender, logger *slog.Logger) *Importer {
	return &Importer{store: s, events: events, logger: logger}
}

// Submit queues the manifest as an import task and returns its id.
func (im *Importer) Submit(eng *engine.Engine, m *Manifest) (string, error) {
	return eng.Submit(TaskKind, im.Work(m))
}

// Work returns the engine work that imports m. It stops between parts when
// its context is cancelled; parts already written stay written.
func (im *Importer) Work(m *Manifest) engine.Work {
	return func(ctx context.Context, report engine.ProgressFunc) (any, error) {
		var sum Summary
		total := len(m.Parts)

		if err := report(0, fmt.Sprintf("importing %d parts", total)); err != nil {
			return nil, err
		}

		for i, in := range m.Parts {
			if err := ctx.Err(); err != nil {
				return sum, err
			}

			res, err := im.store.UpsertPart(ctx, &model.Part{
				SKU:         strings.TrimSpace(in.SKU),
				Name:        strings.TrimSpace(in.Name),
				Description: in.Description,
				Quantity:    in.Quantity,
				Location:    in.Location,
			})
			if err != nil {
				return sum, fmt.Errorf("import %s: %w", in.SKU, err)
			}
			if res.Created {
				sum.Created++
			} else {
				sum.Updated++
			}

			if im.events != nil {
				im.events.SendEvent(ctx, StreamID(res.Part.ID), EventPartUpdated, res.Part)
			}

			done := i + 1
			if err := report(done*100/total, fmt.Sprintf("%d/%d %s", done, total, res.Part.SKU)); err != nil {
				return sum, err
			}
		}

		im.logger.Info("parts import finished",
			"created", sum.Created,
			"updated", sum.Updated,
		)
		return sum, nil
	}
}

// StreamID returns the stream identifier for a part's events.
func StreamID(partID string) string {
	return StreamPrefix + ":" + partID
}

// PartLive is the producer check for part streams: a part stream is live
// while the part exists.
func PartLive(s store.Store) func(ctx context.Context, key string) bool {
	return func(ctx context.Context, key string) bool {
		if !model.ValidID(key) {
			return false
		}
		_, err := s.GetPart(ctx, key)
		return err == nil
	}
}
