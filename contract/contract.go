//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"message-board/domain"
	"reflect"

	"github.com/google/uuid"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Store is the shared root handle over the persistent store.
// Nothing mutates through it directly: every operation forks its own UnitOfWork.
type Store interface {
	Fork() UnitOfWork
	Ping(ctx context.Context) error
}

// UnitOfWork is an isolated view over the store tracking one operation's pending changes.
type UnitOfWork interface {
	Persist(ctx context.Context, message domain.Message) error
	Commit(ctx context.Context) error
	PersistAndCommit(ctx context.Context, message domain.Message) error
	ListMessages(ctx context.Context) ([]domain.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error)
	Discard()
}

// Subscription is one consumer's live sequence of events on a topic.
type Subscription interface {
	C() <-chan domain.Event
	Close()
}

type EventBus interface {
	Publish(topic domain.Topic, payload any)
	Subscribe(ctx context.Context, topic domain.Topic) (Subscription, error)
}

// BusObserver receives bus lifecycle notifications, used for metrics.
type BusObserver interface {
	SubscriptionOpened(topic domain.Topic)
	SubscriptionClosed(topic domain.Topic)
	EventPublished(topic domain.Topic, receivers int)
	EventDropped(topic domain.Topic)
}

// Censor rewrites forbidden words in user content.
type Censor interface {
	Censor(original string) string
}
