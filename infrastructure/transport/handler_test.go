package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"message-board/domain"
	"message-board/errors"
	"message-board/infrastructure/graphql"
	"message-board/infrastructure/storage"
	"message-board/mocks"
	"message-board/observability"
	"message-board/runtime"
	"message-board/services"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type testServer struct {
	*httptest.Server
	bus *runtime.Bus
}

func newTestServer(t *testing.T, options Options) testServer {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	registry := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(registry)
	require.NoError(t, err)
	bus := runtime.NewBus(log, runtime.BufferNone, 0, metrics)
	store := storage.NewMessageStore(db, log, nil)
	schema, err := graphql.NewSchema(graphql.NewResolver(log, services.NewMessageService(log, bus, nil, 0, nil), metrics), log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	handler := NewGraphQLHandler(ctx, log, schema, store, options, metrics)
	server := httptest.NewServer(NewRouter(log, handler, store, registry, []string{"*"}))
	t.Cleanup(func() {
		cancel()
		server.Close()
		bus.Close()
		_ = db.Close()
	})
	return testServer{Server: server, bus: bus}
}

func (s testServer) post(t *testing.T, query string, variables map[string]interface{}) map[string]interface{} {
	t.Helper()
	body, err := json.Marshal(Request{Query: query, Variables: variables})
	require.NoError(t, err)
	resp, err := http.Post(s.URL+"/graphql", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{subprotocol}}
	conn, resp, err := dialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/graphql", nil)
	require.NoError(t, err)
	require.Equal(t, subprotocol, resp.Header.Get("Sec-Websocket-Protocol"))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func requireClosedWith(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		require.Equal(t, code, closeErr.Code)
		return
	}
}

func initialise(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, map[string]interface{}{"type": "connection_init"})
	require.Equal(t, "connection_ack", read(t, conn)["type"])
}

const createMutation = `mutation($from: String!, $content: String!) { createMessage(from: $from, content: $content) { id from content } }`

func TestHandler_Post_Mutation_Then_Query(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})

	created := s.post(t, createMutation, map[string]interface{}{"from": "Alice", "content": "hi"})
	req.Nil(created["errors"])

	listed := s.post(t, `{ listMessages { from content } }`, nil)
	req.Equal(map[string]interface{}{
		"listMessages": []interface{}{map[string]interface{}{"from": "Alice", "content": "hi"}},
	}, listed["data"])
}

func TestHandler_Post_Validation_Error(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})

	out := s.post(t, createMutation, map[string]interface{}{"from": "", "content": "hi"})

	errs := out["errors"].([]interface{})
	req.Len(errs, 1)
	ext := errs[0].(map[string]interface{})["extensions"].(map[string]interface{})
	req.Equal(errors.CodeValidation, ext["code"])
	req.Equal([]interface{}{map[string]interface{}{"field": "from", "rule": "required"}}, ext["fields"])
}

func TestHandler_Rejects_Malformed_Body_And_Unknown_Method(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})

	resp, err := http.Post(s.URL+"/graphql", "application/json", strings.NewReader("{not json"))
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	r, err := http.NewRequest(http.MethodPut, s.URL+"/graphql", nil)
	req.NoError(err)
	resp, err = http.DefaultClient.Do(r)
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandler_Get_Serves_Playground(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})

	resp, err := http.Get(s.URL + "/graphql")
	req.NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	req.NoError(err)

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Contains(string(body), "graphiql")
}

func TestRouter_Metrics_And_Health(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})
	s.post(t, createMutation, map[string]interface{}{"from": "Alice", "content": ""})

	resp, err := http.Get(s.URL + "/metrics")
	req.NoError(err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Contains(string(body), `message_board_operation_errors_total{code="VALIDATION_ERROR"} 1`)

	resp, err = http.Get(s.URL + "/healthz")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
}

func TestRouter_Health_Reports_Unavailable_Store(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Ping(gomock.Any()).Return(errors.NewStoreError(errors.Unavailable, "ping", badger.ErrDBClosed))
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	router := NewRouter(log, http.NotFoundHandler(), store, prometheus.NewRegistry(), []string{"*"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	req.Equal(http.StatusServiceUnavailable, rec.Code)
	req.JSONEq(`{"status":"unavailable"}`, rec.Body.String())
}

func TestWebSocket_Subscription_Receives_Created_Message(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})
	conn := s.dial(t)
	initialise(t, conn)

	// Given a live subscription
	send(t, conn, map[string]interface{}{
		"id": "1", "type": "subscribe",
		"payload": map[string]interface{}{"query": "subscription { onMessageCreated { from content } }"},
	})
	req.Eventually(func() bool { return s.bus.SubscriberCount(domain.TopicMessageCreated) == 1 }, 2*time.Second, 5*time.Millisecond)

	// When another client creates a message
	s.post(t, createMutation, map[string]interface{}{"from": "Bob", "content": "live"})

	// Then it is pushed on the socket
	msg := read(t, conn)
	req.Equal("next", msg["type"])
	req.Equal("1", msg["id"])
	req.Equal(map[string]interface{}{
		"data": map[string]interface{}{"onMessageCreated": map[string]interface{}{"from": "Bob", "content": "live"}},
	}, msg["payload"])

	// And completing it removes the registration
	send(t, conn, map[string]interface{}{"id": "1", "type": "complete"})
	req.Eventually(func() bool { return s.bus.SubscriberCount(domain.TopicMessageCreated) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_Disconnect_Removes_Subscription(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})
	conn := s.dial(t)
	initialise(t, conn)
	send(t, conn, map[string]interface{}{
		"id": "1", "type": "subscribe",
		"payload": map[string]interface{}{"query": "subscription { onMessageUpdated { id } }"},
	})
	req.Eventually(func() bool { return s.bus.SubscriberCount(domain.TopicMessageUpdated) == 1 }, 2*time.Second, 5*time.Millisecond)

	req.NoError(conn.Close())

	req.Eventually(func() bool { return s.bus.SubscriberCount(domain.TopicMessageUpdated) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocket_Query_Streams_Next_Then_Complete(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})
	conn := s.dial(t)
	initialise(t, conn)

	send(t, conn, map[string]interface{}{
		"id": "q", "type": "subscribe",
		"payload": map[string]interface{}{"query": "{ listMessages { id } }"},
	})

	next := read(t, conn)
	req.Equal("next", next["type"])
	req.Equal(map[string]interface{}{"data": map[string]interface{}{"listMessages": []interface{}{}}}, next["payload"])
	complete := read(t, conn)
	req.Equal("complete", complete["type"])
	req.Equal("q", complete["id"])
}

func TestWebSocket_Invalid_Query_Yields_Error_Message(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})
	conn := s.dial(t)
	initialise(t, conn)

	send(t, conn, map[string]interface{}{
		"id": "bad", "type": "subscribe",
		"payload": map[string]interface{}{"query": "{ nope }"},
	})

	msg := read(t, conn)
	req.Equal("error", msg["type"])
	req.Equal("bad", msg["id"])
	req.NotEmpty(msg["payload"])
}

func TestWebSocket_Ping_Pong(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})
	conn := s.dial(t)
	initialise(t, conn)

	send(t, conn, map[string]interface{}{"type": "ping"})

	req.Equal("pong", read(t, conn)["type"])
}

func TestWebSocket_Protocol_Violations(t *testing.T) {
	subscribe := map[string]interface{}{
		"id": "1", "type": "subscribe",
		"payload": map[string]interface{}{"query": "subscription { onMessageCreated { id } }"},
	}

	t.Run("subscribe before acknowledgement", func(t *testing.T) {
		s := newTestServer(t, Options{})
		conn := s.dial(t)
		send(t, conn, subscribe)
		requireClosedWith(t, conn, CloseUnauthorized)
	})

	t.Run("second connection_init", func(t *testing.T) {
		s := newTestServer(t, Options{})
		conn := s.dial(t)
		initialise(t, conn)
		send(t, conn, map[string]interface{}{"type": "connection_init"})
		requireClosedWith(t, conn, CloseTooManyInitialise)
	})

	t.Run("duplicate operation id", func(t *testing.T) {
		s := newTestServer(t, Options{})
		conn := s.dial(t)
		initialise(t, conn)
		send(t, conn, subscribe)
		send(t, conn, subscribe)
		requireClosedWith(t, conn, CloseSubscriberExists)
	})

	t.Run("malformed message", func(t *testing.T) {
		s := newTestServer(t, Options{})
		conn := s.dial(t)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
		requireClosedWith(t, conn, CloseInvalidMessage)
	})

	t.Run("no connection_init in time", func(t *testing.T) {
		s := newTestServer(t, Options{InitTimeout: 50 * time.Millisecond})
		conn := s.dial(t)
		requireClosedWith(t, conn, CloseInitTimeout)
	})
}

// recordingConn keeps every byte the client reads off the socket.
type recordingConn struct {
	net.Conn
	received bytes.Buffer
}

func (c *recordingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.received.Write(p[:n])
	return n, err
}

// closeCodes lists the status codes of the close frames in a server byte stream.
func closeCodes(t *testing.T, raw []byte) []int {
	t.Helper()
	end := bytes.Index(raw, []byte("\r\n\r\n"))
	require.GreaterOrEqual(t, end, 0)
	frames := raw[end+4:]
	var codes []int
	for len(frames) >= 2 {
		opcode := int(frames[0] & 0x0f)
		size := int(frames[1] & 0x7f)
		frames = frames[2:]
		switch size {
		case 126:
			size = int(binary.BigEndian.Uint16(frames))
			frames = frames[2:]
		case 127:
			size = int(binary.BigEndian.Uint64(frames))
			frames = frames[8:]
		}
		require.LessOrEqual(t, size, len(frames))
		if opcode == websocket.CloseMessage && size >= 2 {
			codes = append(codes, int(binary.BigEndian.Uint16(frames)))
		}
		frames = frames[size:]
	}
	return codes
}

func TestWebSocket_Protocol_Close_Is_Sent_Once(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, Options{})
	var recorder *recordingConn
	dialer := websocket.Dialer{
		Subprotocols: []string{subprotocol},
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := (&net.Dialer{}).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			recorder = &recordingConn{Conn: conn}
			return recorder, nil
		},
	}
	conn, _, err := dialer.Dial("ws"+strings.TrimPrefix(s.URL, "http")+"/graphql", nil)
	req.NoError(err)
	t.Cleanup(func() { _ = conn.Close() })

	// Given a session closed for a protocol violation
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("{oops")))
	requireClosedWith(t, conn, CloseInvalidMessage)

	// When the server finishes and drops the connection
	req.NoError(recorder.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _ = io.Copy(io.Discard, recorder)

	// Then only the protocol close frame was written
	req.Equal([]int{CloseInvalidMessage}, closeCodes(t, recorder.received.Bytes()))
}
