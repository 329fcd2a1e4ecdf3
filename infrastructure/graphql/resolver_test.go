package graphql

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"message-board/contract"
	"message-board/errors"
	"message-board/infrastructure/storage"
	"message-board/runtime"
	"message-board/services"

	"github.com/dgraph-io/badger/v4"
	gql "github.com/graph-gophers/graphql-go"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type outcomes struct {
	mu      sync.Mutex
	created int
	codes   []string
}

func (o *outcomes) MessageCreated() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.created++
}

func (o *outcomes) OperationFailed(code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes = append(o.codes, code)
}

type harness struct {
	schema   *gql.Schema
	bus      *runtime.Bus
	store    *storage.MessageStore
	outcomes *outcomes
}

func newHarness(t *testing.T) harness {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	bus := runtime.NewBus(log, runtime.BufferNone, 0, nil)
	t.Cleanup(func() {
		bus.Close()
		_ = db.Close()
	})
	rec := &outcomes{}
	schema, err := NewSchema(NewResolver(log, services.NewMessageService(log, bus, nil, 0, nil), rec), log)
	require.NoError(t, err)
	return harness{schema: schema, bus: bus, store: storage.NewMessageStore(db, log, nil), outcomes: rec}
}

// exec runs one operation with its own unit of work, as the transport does.
func (h harness) exec(t *testing.T, query string, variables map[string]interface{}) *gql.Response {
	t.Helper()
	uow := h.store.Fork()
	defer uow.Discard()
	ctx := contract.WithOperation(context.Background(), contract.Operation{UnitOfWork: uow})
	return h.schema.Exec(ctx, query, "", variables)
}

type messageJSON struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	From      string    `json:"from"`
	Content   string    `json:"content"`
}

const createMutation = `mutation($from: String!, $content: String!) {
	createMessage(from: $from, content: $content) { id createdAt updatedAt from content }
}`

func TestSchema_CreateMessage_Then_ListMessages(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	// When a message is created
	resp := h.exec(t, createMutation, map[string]interface{}{"from": "Alice", "content": "hi"})
	req.Empty(resp.Errors)
	var created struct{ CreateMessage messageJSON }
	req.NoError(json.Unmarshal(resp.Data, &created))

	// Then it carries an id and equal timestamps
	req.NotEmpty(created.CreateMessage.ID)
	req.Equal("Alice", created.CreateMessage.From)
	req.Equal("hi", created.CreateMessage.Content)
	req.True(created.CreateMessage.CreatedAt.Equal(created.CreateMessage.UpdatedAt))

	// And a separate operation lists it
	resp = h.exec(t, `{ listMessages { id from content } }`, nil)
	req.Empty(resp.Errors)
	var listed struct{ ListMessages []messageJSON }
	req.NoError(json.Unmarshal(resp.Data, &listed))
	req.Len(listed.ListMessages, 1)
	req.Equal(created.CreateMessage.ID, listed.ListMessages[0].ID)
}

func TestSchema_Validation_Error_Carries_Code_And_Fields(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	resp := h.exec(t, createMutation, map[string]interface{}{"from": "Alice", "content": ""})

	req.Len(resp.Errors, 1)
	ext := resp.Errors[0].Extensions
	req.Equal(errors.CodeValidation, ext["code"])
	req.Equal([]map[string]string{{"field": "content", "rule": "required"}}, ext["fields"])
	req.Equal([]string{errors.CodeValidation}, h.outcomes.codes)

	resp = h.exec(t, `{ listMessages { id } }`, nil)
	req.JSONEq(`{"listMessages":[]}`, string(resp.Data))
}

func TestSchema_Counts_Creations_Even_Once_The_Bus_Is_Closed(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	// Given a bus that no longer publishes
	h.bus.Close()

	// When a message is created
	resp := h.exec(t, createMutation, map[string]interface{}{"from": "Alice", "content": "late"})

	// Then the commit is still counted
	req.Empty(resp.Errors)
	req.Equal(1, h.outcomes.created)
	req.Empty(h.outcomes.codes)
}

func TestSchema_GetMessage(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	resp := h.exec(t, createMutation, map[string]interface{}{"from": "Alice", "content": "hi"})
	var created struct{ CreateMessage messageJSON }
	req.NoError(json.Unmarshal(resp.Data, &created))
	query := `query($id: ID!) { getMessage(id: $id) { id content } }`

	resp = h.exec(t, query, map[string]interface{}{"id": created.CreateMessage.ID})
	req.Empty(resp.Errors)
	req.JSONEq(`{"getMessage":{"id":"`+created.CreateMessage.ID+`","content":"hi"}}`, string(resp.Data))

	resp = h.exec(t, query, map[string]interface{}{"id": "018f2c1e-7c2a-7b3e-9d4f-000000000000"})
	req.Len(resp.Errors, 1)
	req.Equal(string(errors.NotFound), resp.Errors[0].Extensions["code"])
	req.Equal("message not found", resp.Errors[0].Message)
}

func TestSchema_UpdateMessage_Refreshes_UpdatedAt(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	resp := h.exec(t, createMutation, map[string]interface{}{"from": "Alice", "content": "draft"})
	var created struct{ CreateMessage messageJSON }
	req.NoError(json.Unmarshal(resp.Data, &created))

	resp = h.exec(t, `mutation($id: ID!) { updateMessage(id: $id, content: "final") { id createdAt updatedAt content } }`,
		map[string]interface{}{"id": created.CreateMessage.ID})

	req.Empty(resp.Errors)
	var updated struct{ UpdateMessage messageJSON }
	req.NoError(json.Unmarshal(resp.Data, &updated))
	req.Equal("final", updated.UpdateMessage.Content)
	req.True(updated.UpdateMessage.CreatedAt.Equal(created.CreateMessage.CreatedAt))
	req.False(updated.UpdateMessage.UpdatedAt.Before(created.CreateMessage.UpdatedAt))
}

func TestSchema_Missing_Operation_Is_Internal(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	resp := h.schema.Exec(context.Background(), `{ listMessages { id } }`, "", nil)

	req.Len(resp.Errors, 1)
	req.Equal(errors.CodeInternal, resp.Errors[0].Extensions["code"])
	req.Equal("internal error", resp.Errors[0].Message)
}

func TestSchema_Subscription_Receives_Created_Messages(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Given a live subscription
	stream, err := h.schema.Subscribe(ctx, `subscription { onMessageCreated { from content } }`, "", nil)
	req.NoError(err)

	// When a message is created
	h.exec(t, createMutation, map[string]interface{}{"from": "Bob", "content": "live"})

	// Then the payload is resolved to the subscription's selection set
	select {
	case out := <-stream:
		resp := out.(*gql.Response)
		req.Empty(resp.Errors)
		req.JSONEq(`{"onMessageCreated":{"from":"Bob","content":"live"}}`, string(resp.Data))
	case <-time.After(time.Second):
		req.FailNow("no event delivered")
	}

	// And cancelling ends the stream
	cancel()
	req.Eventually(func() bool {
		select {
		case _, ok := <-stream:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
