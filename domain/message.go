// Package domain contains the core concepts of the message board.
// Records carry identity and timestamps; messages are the only record type.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Record is the field-set shared by every persisted entity.
// ID never changes once assigned and UpdatedAt never moves backwards.
type Record struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord assigns a time-ordered identifier and stamps both timestamps with now.
func NewRecord(now time.Time) Record {
	now = now.UTC()
	return Record{
		ID:        uuid.Must(uuid.NewV7()),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch refreshes UpdatedAt after a mutation.
func (r *Record) Touch(now time.Time) {
	now = now.UTC()
	if now.After(r.UpdatedAt) {
		r.UpdatedAt = now
	}
}

// Message is a single post on the board.
type Message struct {
	Record
	From    string
	Content string
}

func NewMessage(from, content string, now time.Time) Message {
	return Message{
		Record:  NewRecord(now),
		From:    from,
		Content: content,
	}
}
