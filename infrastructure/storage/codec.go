package storage

import (
	"fmt"
	"message-board/domain"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers of a stored message. Never renumber.
const (
	fieldID        protowire.Number = 1
	fieldFrom      protowire.Number = 2
	fieldContent   protowire.Number = 3
	fieldCreatedAt protowire.Number = 4
	fieldUpdatedAt protowire.Number = 5
)

// EncodeMessage serializes a message using the protobuf wire format.
func EncodeMessage(message domain.Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, message.ID.String())
	b = protowire.AppendTag(b, fieldFrom, protowire.BytesType)
	b = protowire.AppendString(b, message.From)
	b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
	b = protowire.AppendString(b, message.Content)
	b = protowire.AppendTag(b, fieldCreatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(message.CreatedAt.UnixNano()))
	b = protowire.AppendTag(b, fieldUpdatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(message.UpdatedAt.UnixNano()))
	return b
}

// DecodeMessage is the inverse of EncodeMessage. Unknown fields are skipped.
func DecodeMessage(b []byte) (domain.Message, error) {
	var message domain.Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return domain.Message{}, fmt.Errorf("failed to read tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldID || num == fieldFrom || num == fieldContent):
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return domain.Message{}, fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldID:
				id, err := uuid.Parse(v)
				if err != nil {
					return domain.Message{}, fmt.Errorf("invalid message id %q: %w", v, err)
				}
				message.ID = id
			case fieldFrom:
				message.From = v
			case fieldContent:
				message.Content = v
			}
		case typ == protowire.VarintType && (num == fieldCreatedAt || num == fieldUpdatedAt):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return domain.Message{}, fmt.Errorf("failed to read field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			at := time.Unix(0, int64(v)).UTC()
			if num == fieldCreatedAt {
				message.CreatedAt = at
			} else {
				message.UpdatedAt = at
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return domain.Message{}, fmt.Errorf("failed to skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if message.ID == uuid.Nil {
		return domain.Message{}, fmt.Errorf("stored message has no id")
	}
	return message, nil
}
