package services

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"message-board/contract"
	"message-board/domain"
	"message-board/errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// IMessageService executes the read, write and live operations of the board.
// Every call that touches the store receives the operation's own UnitOfWork.
type IMessageService interface {
	ListMessages(ctx context.Context, op contract.Operation) ([]domain.Message, error)
	GetMessage(ctx context.Context, op contract.Operation, id string) (domain.Message, error)
	CreateMessage(ctx context.Context, op contract.Operation, cmd domain.CreateMessageCommand) (domain.Message, error)
	UpdateMessage(ctx context.Context, op contract.Operation, cmd domain.UpdateMessageCommand) (domain.Message, error)
	Watch(ctx context.Context, topic domain.Topic) (<-chan domain.Message, error)
}

type MessageService struct {
	log              *slog.Logger
	bus              contract.EventBus
	censor           contract.Censor
	validator        *validator.Validate
	maxContentLength int
	now              func() time.Time
}

// NewMessageService builds the dispatcher.
// A nil censor keeps content as is, a zero maxContentLength disables the length check
// and a nil clock falls back to time.Now.
func NewMessageService(
	log *slog.Logger,
	bus contract.EventBus,
	censor contract.Censor,
	maxContentLength int,
	now func() time.Time,
) *MessageService {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	if censor == nil {
		censor = passthrough{}
	}
	if now == nil {
		now = time.Now
	}
	return &MessageService{
		log:              log,
		bus:              bus,
		censor:           censor,
		validator:        v,
		maxContentLength: maxContentLength,
		now:              now,
	}
}

func (s *MessageService) ListMessages(ctx context.Context, op contract.Operation) ([]domain.Message, error) {
	messages, err := op.UnitOfWork.ListMessages(ctx)
	if err != nil {
		s.log.Error("Unable to list messages", "error", err)
		return nil, err
	}
	return messages, nil
}

// GetMessage accepts the canonical hyphenated id in any case.
func (s *MessageService) GetMessage(ctx context.Context, op contract.Operation, id string) (domain.Message, error) {
	id = strings.ToLower(id)
	if err := s.validator.Var(id, "required,uuid"); err != nil {
		return domain.Message{}, toValidationError(err, "id")
	}
	message, err := op.UnitOfWork.GetMessage(ctx, uuid.MustParse(id))
	if err != nil {
		s.logStoreError("Unable to get message", err, "id", id)
		return domain.Message{}, err
	}
	return message, nil
}

// CreateMessage validates the command, records a new message and announces it
// on MESSAGE_CREATED once the commit succeeded.
func (s *MessageService) CreateMessage(ctx context.Context, op contract.Operation, cmd domain.CreateMessageCommand) (domain.Message, error) {
	if err := s.validate(cmd, cmd.Content); err != nil {
		return domain.Message{}, err
	}

	message := domain.NewMessage(cmd.From, s.censor.Censor(cmd.Content), s.now())
	if err := op.UnitOfWork.PersistAndCommit(ctx, message); err != nil {
		s.logStoreError("Unable to create message", err, "id", message.ID)
		return domain.Message{}, err
	}

	s.bus.Publish(domain.TopicMessageCreated, message)
	s.log.Debug("Message created", "id", message.ID, "from", message.From)
	return message, nil
}

// UpdateMessage replaces the content of an existing message, refreshes its
// UpdatedAt and announces it on MESSAGE_UPDATED.
func (s *MessageService) UpdateMessage(ctx context.Context, op contract.Operation, cmd domain.UpdateMessageCommand) (domain.Message, error) {
	cmd.ID = strings.ToLower(cmd.ID)
	if err := s.validate(cmd, cmd.Content); err != nil {
		return domain.Message{}, err
	}

	message, err := op.UnitOfWork.GetMessage(ctx, uuid.MustParse(cmd.ID))
	if err != nil {
		s.logStoreError("Unable to load message for update", err, "id", cmd.ID)
		return domain.Message{}, err
	}
	message.Content = s.censor.Censor(cmd.Content)
	message.Touch(s.now())

	if err := op.UnitOfWork.PersistAndCommit(ctx, message); err != nil {
		s.logStoreError("Unable to update message", err, "id", cmd.ID)
		return domain.Message{}, err
	}

	s.bus.Publish(domain.TopicMessageUpdated, message)
	s.log.Debug("Message updated", "id", message.ID)
	return message, nil
}

// Watch yields every message published on topic from now on, until ctx ends.
// The returned channel is closed when the subscription is over.
func (s *MessageService) Watch(ctx context.Context, topic domain.Topic) (<-chan domain.Message, error) {
	sub, err := s.bus.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	out := make(chan domain.Message)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.C():
				if !ok {
					return
				}
				message, ok := evt.Payload.(domain.Message)
				if !ok {
					s.log.Warn("Unexpected payload on topic", "topic", topic, "type", fmt.Sprintf("%T", evt.Payload))
					continue
				}
				select {
				case out <- message:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *MessageService) validate(cmd any, content string) error {
	if err := s.validator.Struct(cmd); err != nil {
		return toValidationError(err, "")
	}
	if s.maxContentLength > 0 {
		if err := s.validator.Var(content, fmt.Sprintf("max=%d", s.maxContentLength)); err != nil {
			return toValidationError(err, "content")
		}
	}
	return nil
}

func (s *MessageService) logStoreError(msg string, err error, args ...any) {
	category, _ := errors.CategoryOf(err)
	s.log.Error(msg, append(args, "category", category, "error", err)...)
}

// toValidationError turns validator output into field violations.
// field names the input when err comes from a single variable check.
func toValidationError(err error, field string) error {
	var fieldErrors validator.ValidationErrors
	if !stderrors.As(err, &fieldErrors) {
		return errors.NewValidationError(errors.FieldViolation{Field: field, Rule: err.Error()})
	}
	return errors.NewValidationError(lo.Map(fieldErrors, func(fe validator.FieldError, _ int) errors.FieldViolation {
		name := fe.Field()
		if name == "" {
			name = field
		}
		return errors.FieldViolation{Field: name, Rule: fe.Tag()}
	})...)
}

type passthrough struct{}

func (passthrough) Censor(original string) string { return original }
