package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"message-board/contract"

	"github.com/gorilla/websocket"
	gql "github.com/graph-gophers/graphql-go"
	gqlerrors "github.com/graph-gophers/graphql-go/errors"
)

const (
	subprotocol    = "graphql-transport-ws"
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
	sendBufferSize = 64
)

// graphql-transport-ws message types.
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

// graphql-transport-ws close codes.
const (
	CloseInvalidMessage    = 4400
	CloseUnauthorized      = 4401
	CloseInitTimeout       = 4408
	CloseSubscriberExists  = 4409
	CloseTooManyInitialise = 4429
)

type inbound struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// session is one WebSocket connection multiplexing GraphQL operations by id.
type session struct {
	handler *GraphQLHandler
	log     *slog.Logger
	conn    *websocket.Conn
	request *http.Request
	send    chan outbound

	ctx    context.Context
	cancel context.CancelFunc

	// set once a protocol close frame went out, so the write pump does not add a normal one
	protocolClosed atomic.Bool

	mu           sync.Mutex
	initialised  bool
	acknowledged bool
	operations   map[string]context.CancelFunc
	wg           sync.WaitGroup
}

func (h *GraphQLHandler) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade WebSocket connection", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	h.observer.ConnectionOpened()
	defer h.observer.ConnectionClosed()

	ctx, cancel := context.WithCancel(h.appCtx)
	s := &session{
		handler:    h,
		log:        h.log.With("remote_addr", conn.RemoteAddr().String()),
		conn:       conn,
		request:    r,
		send:       make(chan outbound, sendBufferSize),
		ctx:        ctx,
		cancel:     cancel,
		operations: make(map[string]context.CancelFunc),
	}
	s.log.Debug("WebSocket connection upgraded")

	if conn.Subprotocol() != subprotocol {
		s.closeWith(websocket.CloseProtocolError, "Unsupported sub-protocol")
		_ = conn.Close()
		cancel()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump()
	}()
	s.readPump()
	s.cancel()
	s.wg.Wait()
	<-done
	s.log.Debug("WebSocket session finished")
}

// readPump handles client messages. It is the only reader of the connection.
func (s *session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		s.log.Debug("WebSocket pong received")
		return nil
	})

	timer := time.AfterFunc(s.handler.options.InitTimeout, func() {
		if !s.isAcknowledged() {
			s.closeWith(CloseInitTimeout, "Connection initialisation timeout")
		}
	})
	defer timer.Stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Warn("WebSocket read error", "error", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			s.closeWith(CloseInvalidMessage, "Invalid message received")
			return
		}
		if !s.dispatch(msg) {
			return
		}
	}
}

// dispatch reacts to one client message and reports whether the session goes on.
func (s *session) dispatch(msg inbound) bool {
	switch msg.Type {
	case msgConnectionInit:
		s.mu.Lock()
		already := s.initialised
		s.initialised = true
		s.mu.Unlock()
		if already {
			s.closeWith(CloseTooManyInitialise, "Too many initialisation requests")
			return false
		}
		s.mu.Lock()
		s.acknowledged = true
		s.mu.Unlock()
		s.push(outbound{Type: msgConnectionAck})
	case msgPing:
		s.push(outbound{Type: msgPong})
	case msgPong:
	case msgSubscribe:
		if !s.isAcknowledged() {
			s.closeWith(CloseUnauthorized, "Unauthorized")
			return false
		}
		var req Request
		if msg.ID == "" || json.Unmarshal(msg.Payload, &req) != nil || req.Query == "" {
			s.closeWith(CloseInvalidMessage, "Invalid message received")
			return false
		}
		return s.start(msg.ID, req)
	case msgComplete:
		s.stop(msg.ID)
	default:
		s.closeWith(CloseInvalidMessage, fmt.Sprintf("Invalid message type %q", msg.Type))
		return false
	}
	return true
}

func (s *session) start(id string, req Request) bool {
	s.mu.Lock()
	if _, exists := s.operations[id]; exists {
		s.mu.Unlock()
		s.closeWith(CloseSubscriberExists, fmt.Sprintf("Subscriber for %s already exists", id))
		return false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.operations[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(ctx, id, req)
	return true
}

// stop handles a client complete: the operation ends without a complete echo.
func (s *session) stop(id string) {
	s.mu.Lock()
	cancel, ok := s.operations[id]
	delete(s.operations, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// release forgets the operation and reports whether the client still expected it.
func (s *session) release(id string) bool {
	s.mu.Lock()
	cancel, ok := s.operations[id]
	delete(s.operations, id)
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// execute runs one operation with its own unit of work and streams its results.
func (s *session) execute(ctx context.Context, id string, req Request) {
	defer s.wg.Done()

	uow := s.handler.store.Fork()
	defer uow.Discard()
	ctx = contract.WithOperation(ctx, contract.Operation{
		UnitOfWork: uow,
		Caller:     contract.Caller{Request: s.request},
	})

	stream, err := s.handler.schema.Subscribe(ctx, req.Query, req.OperationName, req.Variables)
	if err != nil {
		s.release(id)
		s.push(outbound{ID: id, Type: msgError, Payload: []*gqlerrors.QueryError{gqlerrors.Errorf("%s", err)}})
		return
	}

	for out := range stream {
		resp, ok := out.(*gql.Response)
		if !ok {
			continue
		}
		withExtensions(resp.Errors)
		if resp.Data == nil && len(resp.Errors) > 0 {
			if s.release(id) {
				s.push(outbound{ID: id, Type: msgError, Payload: resp.Errors})
			}
			drain(stream)
			return
		}
		s.push(outbound{ID: id, Type: msgNext, Payload: resp})
	}

	if s.release(id) {
		s.push(outbound{ID: id, Type: msgComplete})
	}
}

func drain(stream <-chan interface{}) {
	for range stream {
	}
}

// push queues msg for the write pump, giving up once the session is over.
func (s *session) push(msg outbound) {
	select {
	case s.send <- msg:
	case <-s.ctx.Done():
	}
}

// writePump is the only writer of data frames on the connection.
func (s *session) writePump() {
	ticker := time.NewTicker(s.handler.options.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.log.Warn("WebSocket write error", "error", err, "type", msg.Type)
				s.cancel()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug("WebSocket ping failed", "error", err)
				s.cancel()
				return
			}
		case <-s.ctx.Done():
			if !s.protocolClosed.Load() {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			}
			return
		}
	}
}

// closeWith sends a close frame carrying code and ends the session.
func (s *session) closeWith(code int, reason string) {
	s.log.Debug("Closing WebSocket session", "code", code, "reason", reason)
	s.protocolClosed.Store(true)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	s.cancel()
}

func (s *session) isAcknowledged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acknowledged
}
