package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// eventModel maps to the "resolution_events" table.
// No UpdatedAt or DeletedAt: rows are only appended and pruned.
type eventModel struct {
	ID         uuid.UUID `gorm:"type:varchar(36);primaryKey"`
	Trigger    string    `gorm:"not null;index"`
	Backend    string    `gorm:"not null;index"`
	Names      string    `gorm:"type:text;not null"` // JSON array of secret names.
	Status     string    `gorm:"not null;index"`
	Error      string    `gorm:"type:text"`
	DurationMS int64     `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"index"`
}

func (eventModel) TableName() string { return "resolution_events" }

func toModel(ev Event) eventModel {
	names, _ := json.Marshal(ev.Names)
	if ev.Names == nil {
		names = []byte("[]")
	}
	return eventModel{
		ID:         ev.ID,
		Trigger:    ev.Trigger,
		Backend:    ev.Backend,
		Names:      string(names),
		Status:     ev.Status,
		Error:      ev.Error,
		DurationMS: ev.DurationMS,
		CreatedAt:  ev.CreatedAt,
	}
}

func toDomain(m *eventModel) Event {
	var names []string
	_ = json.Unmarshal([]byte(m.Names), &names)
	return Event{
		ID:         m.ID,
		Trigger:    m.Trigger,
		Backend:    m.Backend,
		Names:      names,
		Status:     m.Status,
		Error:      m.Error,
		DurationMS: m.DurationMS,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}
