package storage

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"message-board/contract"
	"message-board/domain"
	"message-board/errors"
	"slices"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	MessagePrefix = "msg:"
	indexPrefix   = "idx:msg:"
)

// messageKey is formatted as "msg:{created_at_padded}:{uuid}" so that a prefix
// scan returns messages in creation order. The 19-digit padding keeps the
// lexicographical order equal to the chronological one.
func messageKey(message domain.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", MessagePrefix, message.CreatedAt.UnixNano(), message.ID))
}

func indexKey(id uuid.UUID) []byte {
	return []byte(indexPrefix + id.String())
}

// MessageStore is the shared root handle over BadgerDB.
type MessageStore struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageStore(db *badger.DB, log *slog.Logger, limitMessages *int) *MessageStore {
	return &MessageStore{db: db, log: log, limitMessages: limitMessages}
}

// Fork returns a UnitOfWork independent of every other one.
// Its transaction is opened lazily, on first use.
func (s *MessageStore) Fork() contract.UnitOfWork {
	return &UnitOfWork{db: s.db, log: s.log, limitMessages: s.limitMessages}
}

func (s *MessageStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStoreError(errors.Unavailable, "ping", err)
	}
	if s.db.IsClosed() {
		return errors.NewStoreError(errors.Unavailable, "ping", badger.ErrDBClosed)
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(indexKey(uuid.Nil))
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return mapError("ping", err)
	}
	return nil
}

// Reset drops every message and index key. Administrative, startup only.
func (s *MessageStore) Reset() error {
	if err := s.db.DropPrefix([]byte(MessagePrefix), []byte(indexPrefix)); err != nil {
		return mapError("reset", err)
	}
	s.log.Info("Message store reset")
	return nil
}

// Seed stores the given messages when the store holds none.
// It reports whether anything was written.
func (s *MessageStore) Seed(ctx context.Context, messages ...domain.Message) (bool, error) {
	empty, err := s.isEmpty()
	if err != nil || !empty {
		return false, err
	}
	uow := s.Fork()
	defer uow.Discard()
	for _, message := range messages {
		if err := uow.Persist(ctx, message); err != nil {
			return false, err
		}
	}
	if err := uow.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MessageStore) isEmpty() (bool, error) {
	empty := true
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Seek([]byte(MessagePrefix))
		empty = !it.ValidForPrefix([]byte(MessagePrefix))
		return nil
	})
	if err != nil {
		return false, mapError("seed", err)
	}
	return empty, nil
}

// UnitOfWork wraps one badger read-write transaction.
// Reads see the snapshot taken when the transaction opened plus the handle's own
// staged writes; nothing staged is visible elsewhere before Commit returns.
type UnitOfWork struct {
	mu            sync.Mutex
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
	txn           *badger.Txn
	pending       int
}

func (u *UnitOfWork) begin(op string) (*badger.Txn, error) {
	if u.db.IsClosed() {
		return nil, errors.NewStoreError(errors.Unavailable, op, badger.ErrDBClosed)
	}
	if u.txn == nil {
		u.txn = u.db.NewTransaction(true)
	}
	return u.txn, nil
}

// Persist stages an insert or an update. A message whose creation time changed
// since it was stored gets its old primary key removed.
func (u *UnitOfWork) Persist(ctx context.Context, message domain.Message) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStoreError(errors.Unavailable, "persist", err)
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	txn, err := u.begin("persist")
	if err != nil {
		return err
	}
	key := messageKey(message)

	item, err := txn.Get(indexKey(message.ID))
	switch {
	case err == nil:
		previous, err := item.ValueCopy(nil)
		if err != nil {
			return mapError("persist", err)
		}
		if !bytes.Equal(previous, key) {
			if err := txn.Delete(previous); err != nil {
				return mapError("persist", err)
			}
		}
	case !stderrors.Is(err, badger.ErrKeyNotFound):
		return mapError("persist", err)
	}

	if err := txn.Set(key, EncodeMessage(message)); err != nil {
		return mapError("persist", err)
	}
	if err := txn.Set(indexKey(message.ID), key); err != nil {
		return mapError("persist", err)
	}
	u.pending++
	return nil
}

// Commit flushes the staged writes. The next call on this handle opens a fresh
// transaction, hence a fresh snapshot.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.txn == nil {
		return nil
	}
	txn, pending := u.txn, u.pending
	u.txn, u.pending = nil, 0

	if err := ctx.Err(); err != nil {
		txn.Discard()
		return errors.NewStoreError(errors.Unavailable, "commit", err)
	}
	// Commit discards the transaction on failure
	if err := txn.Commit(); err != nil {
		return mapError("commit", err)
	}
	if pending > 0 {
		u.log.Debug("Unit of work committed", "writes", pending)
	}
	return nil
}

func (u *UnitOfWork) PersistAndCommit(ctx context.Context, message domain.Message) error {
	if err := u.Persist(ctx, message); err != nil {
		u.Discard()
		return err
	}
	return u.Commit(ctx)
}

// ListMessages returns messages in creation order. When a limit is configured
// only the most recent ones are kept.
func (u *UnitOfWork) ListMessages(ctx context.Context) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStoreError(errors.Unavailable, "list", err)
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	txn, err := u.begin("list")
	if err != nil {
		return nil, err
	}

	prefix := []byte(MessagePrefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = u.limitMessages != nil
	it := txn.NewIterator(opts)
	defer it.Close()

	seekKey := prefix
	if opts.Reverse {
		seekKey = append(bytes.Clone(prefix), 0xFF)
	}

	messages := make([]domain.Message, 0)
	for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
		if u.limitMessages != nil && len(messages) == *u.limitMessages {
			u.log.Debug(fmt.Sprintf("Maximum of %d message reached", *u.limitMessages))
			break
		}
		err := it.Item().Value(func(v []byte) error {
			message, err := DecodeMessage(v)
			if err != nil {
				return err
			}
			messages = append(messages, message)
			return nil
		})
		if err != nil {
			return nil, mapError("list", err)
		}
	}
	if opts.Reverse {
		slices.Reverse(messages)
	}
	return messages, nil
}

func (u *UnitOfWork) GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, errors.NewStoreError(errors.Unavailable, "get", err)
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	txn, err := u.begin("get")
	if err != nil {
		return domain.Message{}, err
	}
	item, err := txn.Get(indexKey(id))
	if err != nil {
		return domain.Message{}, mapError("get", err)
	}
	primary, err := item.ValueCopy(nil)
	if err != nil {
		return domain.Message{}, mapError("get", err)
	}
	item, err = txn.Get(primary)
	if err != nil {
		return domain.Message{}, mapError("get", err)
	}

	var message domain.Message
	err = item.Value(func(v []byte) error {
		message, err = DecodeMessage(v)
		return err
	})
	if err != nil {
		return domain.Message{}, mapError("get", err)
	}
	return message, nil
}

// Discard drops anything staged. Safe to call more than once and after Commit.
func (u *UnitOfWork) Discard() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.txn != nil {
		u.txn.Discard()
		u.txn, u.pending = nil, 0
	}
}

func mapError(op string, err error) error {
	switch {
	case stderrors.Is(err, badger.ErrKeyNotFound):
		return errors.NewStoreError(errors.NotFound, op, err)
	case stderrors.Is(err, badger.ErrConflict):
		return errors.NewStoreError(errors.Conflict, op, err)
	default:
		return errors.NewStoreError(errors.Unavailable, op, err)
	}
}
