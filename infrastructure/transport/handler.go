// Package transport serves the GraphQL API over HTTP and WebSocket.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"message-board/contract"

	"github.com/gorilla/websocket"
	gql "github.com/graph-gophers/graphql-go"
	gqlerrors "github.com/graph-gophers/graphql-go/errors"
	"github.com/samber/lo"
)

const maxRequestSize = 1 << 20

// Request is the body of a GraphQL operation, over POST or inside a subscribe message.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// ConnectionObserver is told about WebSocket connections coming and going.
type ConnectionObserver interface {
	ConnectionOpened()
	ConnectionClosed()
}

type Options struct {
	AllowedOrigins []string
	InitTimeout    time.Duration
	PingInterval   time.Duration
}

// GraphQLHandler forks a unit of work for every operation it receives and
// attaches it, with the caller's handles, to the resolver context.
type GraphQLHandler struct {
	appCtx   context.Context
	log      *slog.Logger
	schema   *gql.Schema
	store    contract.Store
	upgrader websocket.Upgrader
	options  Options
	observer ConnectionObserver
}

// NewGraphQLHandler builds the /graphql handler. WebSocket sessions end when appCtx is done.
func NewGraphQLHandler(appCtx context.Context, log *slog.Logger, schema *gql.Schema, store contract.Store, options Options, observer ConnectionObserver) *GraphQLHandler {
	if observer == nil {
		observer = noopConnections{}
	}
	if options.InitTimeout <= 0 {
		options.InitTimeout = 3 * time.Second
	}
	if options.PingInterval <= 0 {
		options.PingInterval = 30 * time.Second
	}
	return &GraphQLHandler{
		appCtx:  appCtx,
		log:     log,
		schema:  schema,
		store:   store,
		options: options,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{subprotocol},
			CheckOrigin:     originChecker(options.AllowedOrigins),
		},
		observer: observer,
	}
}

func (h *GraphQLHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case websocket.IsWebSocketUpgrade(r):
		h.serveWebSocket(w, r)
	case r.Method == http.MethodPost:
		h.servePost(w, r)
	case r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(playgroundHTML)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *GraphQLHandler) servePost(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		h.log.Debug("Malformed GraphQL request", "error", err, "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusBadRequest, &gql.Response{
			Errors: []*gqlerrors.QueryError{gqlerrors.Errorf("malformed request body")},
		})
		return
	}

	uow := h.store.Fork()
	defer uow.Discard()
	ctx := contract.WithOperation(r.Context(), contract.Operation{
		UnitOfWork: uow,
		Caller:     contract.Caller{Request: r, Response: w},
	})

	resp := h.schema.Exec(ctx, req.Query, req.OperationName, req.Variables)
	withExtensions(resp.Errors)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type extensionser interface {
	Extensions() map[string]interface{}
}

// withExtensions copies resolver error extensions the executor left behind,
// which happens for errors returned by subscription resolvers.
func withExtensions(errs []*gqlerrors.QueryError) {
	for _, err := range errs {
		if err.Extensions != nil || err.ResolverError == nil {
			continue
		}
		if ex, ok := err.ResolverError.(extensionser); ok {
			err.Extensions = ex.Extensions()
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(allowed, "*") || lo.Contains(allowed, origin)
	}
}

type noopConnections struct{}

func (noopConnections) ConnectionOpened() {}
func (noopConnections) ConnectionClosed() {}
