package domain

import (
	"time"

	"github.com/google/uuid"
)

// Topic names a channel on the event bus, one per record type and operation class.
type Topic string

const (
	TopicMessageCreated Topic = "MESSAGE_CREATED"
	TopicMessageUpdated Topic = "MESSAGE_UPDATED"
)

// Event is what the bus hands to subscribers. It is never persisted.
type Event struct {
	ID          uuid.UUID
	Topic       Topic
	Payload     any
	PublishedAt time.Time
}

func NewEvent(topic Topic, payload any) Event {
	return Event{
		ID:          uuid.New(),
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}
}
