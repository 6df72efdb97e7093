package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultQueryLimit = 100

// Repository stores resolution events. Append-only apart from Prune.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a Repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Append inserts a single event. A zero ID or timestamp is filled in.
func (r *Repository) Append(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	model := toModel(ev)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending audit event: %w", err)
	}
	return nil
}

// Query returns events newest first.
func (r *Repository) Query(ctx context.Context, f Filter) ([]Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	q := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit)
	if f.Backend != "" {
		q = q.Where("backend = ?", f.Backend)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var models []eventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}

	events := make([]Event, len(models))
	for i := range models {
		events[i] = toDomain(&models[i])
	}
	return events, nil
}

// Count returns the number of stored events.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&eventModel{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting audit events: %w", err)
	}
	return n, nil
}

// Prune deletes events created before cutoff and returns how many were removed.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&eventModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning audit events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PruneOlderThan deletes events older than the given number of days.
// days <= 0 keeps everything.
func (r *Repository) PruneOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	return r.Prune(ctx, time.Now().UTC().AddDate(0, 0, -days))
}
