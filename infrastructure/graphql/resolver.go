package graphql

import (
	"context"
	stderrors "errors"
	"log/slog"

	"message-board/contract"
	"message-board/domain"
	"message-board/errors"
	"message-board/services"

	gql "github.com/graph-gophers/graphql-go"
	"github.com/samber/lo"
)

// OperationRecorder is told about committed creations and about the extension
// code of every rejected operation.
type OperationRecorder interface {
	MessageCreated()
	OperationFailed(code string)
}

// Resolver is the root resolver for queries, mutations and subscriptions.
// It pulls the per-operation context built by the transport and hands it to the service.
type Resolver struct {
	log      *slog.Logger
	service  services.IMessageService
	recorder OperationRecorder
}

func NewResolver(log *slog.Logger, service services.IMessageService, recorder OperationRecorder) *Resolver {
	return &Resolver{log: log, service: service, recorder: recorder}
}

func (r *Resolver) ListMessages(ctx context.Context) ([]*MessageResolver, error) {
	op, err := contract.OperationFrom(ctx)
	if err != nil {
		return nil, r.reject(ctx, err)
	}
	messages, err := r.service.ListMessages(ctx, op)
	if err != nil {
		return nil, r.reject(ctx, err)
	}
	return lo.Map(messages, func(m domain.Message, _ int) *MessageResolver {
		return &MessageResolver{message: m}
	}), nil
}

func (r *Resolver) GetMessage(ctx context.Context, args struct{ ID gql.ID }) (*MessageResolver, error) {
	op, err := contract.OperationFrom(ctx)
	if err != nil {
		return nil, r.reject(ctx, err)
	}
	message, err := r.service.GetMessage(ctx, op, string(args.ID))
	if err != nil {
		return nil, r.reject(ctx, err)
	}
	return &MessageResolver{message: message}, nil
}

func (r *Resolver) CreateMessage(ctx context.Context, args struct {
	From    string
	Content string
}) (*MessageResolver, error) {
	op, err := contract.OperationFrom(ctx)
	if err != nil {
		return nil, r.reject(ctx, err)
	}
	message, err := r.service.CreateMessage(ctx, op, domain.CreateMessageCommand{From: args.From, Content: args.Content})
	if err != nil {
		return nil, r.reject(ctx, err)
	}
	if r.recorder != nil {
		r.recorder.MessageCreated()
	}
	return &MessageResolver{message: message}, nil
}

func (r *Resolver) UpdateMessage(ctx context.Context, args struct {
	ID      gql.ID
	Content string
}) (*MessageResolver, error) {
	op, err := contract.OperationFrom(ctx)
	if err != nil {
		return nil, r.reject(ctx, err)
	}
	message, err := r.service.UpdateMessage(ctx, op, domain.UpdateMessageCommand{ID: string(args.ID), Content: args.Content})
	if err != nil {
		return nil, r.reject(ctx, err)
	}
	return &MessageResolver{message: message}, nil
}

func (r *Resolver) OnMessageCreated(ctx context.Context) (<-chan *MessageResolver, error) {
	return r.watch(ctx, domain.TopicMessageCreated)
}

func (r *Resolver) OnMessageUpdated(ctx context.Context) (<-chan *MessageResolver, error) {
	return r.watch(ctx, domain.TopicMessageUpdated)
}

// watch lives as long as ctx, which the transport cancels when the client
// completes the subscription or disconnects.
func (r *Resolver) watch(ctx context.Context, topic domain.Topic) (<-chan *MessageResolver, error) {
	messages, err := r.service.Watch(ctx, topic)
	if err != nil {
		return nil, r.reject(ctx, err)
	}
	out := make(chan *MessageResolver)
	go func() {
		defer close(out)
		for m := range messages {
			select {
			case out <- &MessageResolver{message: m}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *Resolver) reject(ctx context.Context, err error) error {
	rejection := errors.MapToGraphQLError(err)
	var gqlErr *errors.GraphQLError
	if stderrors.As(rejection, &gqlErr) {
		if r.recorder != nil {
			r.recorder.OperationFailed(gqlErr.Code)
		}
		if gqlErr.Code == errors.CodeInternal {
			r.log.ErrorContext(ctx, "Operation failed", "error", err)
		}
	}
	return rejection
}

// MessageResolver exposes a message to the client's selection set.
type MessageResolver struct {
	message domain.Message
}

func (m *MessageResolver) ID() gql.ID {
	return gql.ID(m.message.ID.String())
}

func (m *MessageResolver) CreatedAt() gql.Time {
	return gql.Time{Time: m.message.CreatedAt}
}

func (m *MessageResolver) UpdatedAt() gql.Time {
	return gql.Time{Time: m.message.UpdatedAt}
}

func (m *MessageResolver) From() string {
	return m.message.From
}

func (m *MessageResolver) Content() string {
	return m.message.Content
}
