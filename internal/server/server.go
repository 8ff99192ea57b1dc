// Package server is the relay that sequences collaborative edits.
//
// Each document has a Hub. A client connects with a websocket, sends a
// hello, receives a snapshot and then exchanges batches, acks and remote
// operations as described in package protocol. The server is the single
// ordering authority: it rebases each incoming batch across everything
// sequenced since the batch's base and applies it with the same clamping
// the clients use, so every replica converges.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/dshills/foldtext/internal/collab/channel"
	"github.com/dshills/foldtext/internal/ot"
	"github.com/dshills/foldtext/internal/protocol"
	"github.com/dshills/foldtext/internal/server/ledger"
	"github.com/dshills/foldtext/internal/server/store"
)

// Defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultHistoryLimit     = 4096
	DefaultOutboxSize       = 256
	DefaultMaxDocument      = 8 << 20

	writeTimeout = 5 * time.Second
	documentPath = "/v1/orgs/{org}/documents/{doc}"
)

// Authenticator decides whether a bearer token may open a document.
type Authenticator interface {
	Authenticate(token string, key store.Key) bool
}

// AuthFunc adapts a function to Authenticator.
type AuthFunc func(token string, key store.Key) bool

// Authenticate implements Authenticator.
func (f AuthFunc) Authenticate(token string, key store.Key) bool {
	return f(token, key)
}

// Tokens accepts any token in the set. An empty set accepts every token.
type Tokens map[string]struct{}

// NewTokens creates a token set.
func NewTokens(tokens ...string) Tokens {
	t := make(Tokens, len(tokens))
	for _, tok := range tokens {
		t[tok] = struct{}{}
	}
	return t
}

// Authenticate implements Authenticator.
func (t Tokens) Authenticate(token string, _ store.Key) bool {
	if len(t) == 0 {
		return true
	}
	_, ok := t[token]
	return ok
}

// Server routes connections to document hubs.
type Server struct {
	store  store.Store
	ledger ledger.Ledger
	auth   Authenticator
	logger *slog.Logger

	handshakeTimeout time.Duration
	hubCfg           hubConfig
	upgrader         websocket.Upgrader

	mu   sync.Mutex
	hubs map[store.Key]*hubRef
}

type hubRef struct {
	hub  *Hub
	refs int
}

// Option configures a Server.
type Option func(*Server)

// WithAuthenticator sets the token check. The default accepts everything.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPolicy sets the transform policy. It must match the clients'.
func WithPolicy(p ot.Policy) Option {
	return func(s *Server) {
		s.hubCfg.policy = p
	}
}

// WithHistoryLimit sets how many sequenced operations each hub keeps for
// rebasing late batches. Older bases are refused with a protocol error.
func WithHistoryLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.hubCfg.historyLimit = n
		}
	}
}

// WithHandshakeTimeout bounds the wait for a client's hello.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

// New creates a server over st and lg.
func New(st store.Store, lg ledger.Ledger, opts ...Option) *Server {
	s := &Server{
		store:            st,
		ledger:           lg,
		auth:             Tokens(nil),
		logger:           slog.New(slog.DiscardHandler),
		handshakeTimeout: DefaultHandshakeTimeout,
		hubCfg: hubConfig{
			store:        st,
			ledger:       lg,
			policy:       ot.DefaultPolicy,
			historyLimit: DefaultHistoryLimit,
			outboxSize:   DefaultOutboxSize,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		hubs: make(map[store.Key]*hubRef),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hubCfg.logger = s.logger
	return s
}

// Handler returns the HTTP routes:
//
//	GET  /healthz
//	PUT  /v1/orgs/{org}/documents/{doc}     create from the request body
//	GET  /v1/orgs/{org}/documents/{doc}     snapshot frame as JSON
//	GET  /v1/orgs/{org}/documents/{doc}/ws  collaboration websocket
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(documentPath, s.handleCreate).Methods(http.MethodPut)
	r.HandleFunc(documentPath, s.handleGet).Methods(http.MethodGet)
	r.HandleFunc(documentPath+"/ws", s.handleWebSocket).Methods(http.MethodGet)
	return r
}

func routeKey(r *http.Request) store.Key {
	vars := mux.Vars(r)
	return store.Key{Org: vars["org"], Doc: vars["doc"]}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	key := routeKey(r)
	if !s.auth.Authenticate(bearer(r), key) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, DefaultMaxDocument+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > DefaultMaxDocument {
		http.Error(w, "document too large", http.StatusRequestEntityTooLarge)
		return
	}
	switch err := s.store.Create(r.Context(), key, string(body)); {
	case errors.Is(err, store.ErrExists):
		http.Error(w, "document exists", http.StatusConflict)
	case err != nil:
		s.logger.Error("create document failed", "doc", key.String(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		s.logger.Info("document created", "doc", key.String(), "bytes", len(body))
		w.WriteHeader(http.StatusCreated)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := routeKey(r)
	if !s.auth.Authenticate(bearer(r), key) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	snap, err := s.snapshot(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	data, err := protocol.Encode(snap)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// snapshot prefers a live hub's state over the store's.
func (s *Server) snapshot(ctx context.Context, key store.Key) (*protocol.Snapshot, error) {
	s.mu.Lock()
	ref, ok := s.hubs[key]
	s.mu.Unlock()
	if ok {
		ref.hub.mu.Lock()
		defer ref.hub.mu.Unlock()
		return &protocol.Snapshot{Text: string(ref.hub.text), Seq: ref.hub.seq}, nil
	}
	doc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &protocol.Snapshot{Text: doc.Text, Seq: doc.Seq}, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	key := routeKey(r)
	token := bearer(r)
	if token != "" && !s.auth.Authenticate(token, key) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := s.store.Get(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ch := channel.NewWebSocket(conn)
	defer ch.Close()
	if err := s.Accept(r.Context(), key, ch, token != ""); err != nil {
		s.logger.Debug("connection ended", "doc", key.String(), "error", err)
	}
}

// Accept runs the hello exchange on ch and serves the connection until it
// ends. When authenticated is false the hello's token is checked.
func (s *Server) Accept(ctx context.Context, key store.Key, ch channel.Channel, authenticated bool) error {
	hello, err := s.receiveHello(ctx, ch)
	if err != nil {
		sendError(ctx, ch, protocol.CodeProtocol, err.Error())
		return err
	}
	if hello.OrganizationID != key.Org || hello.DocumentID != key.Doc {
		err := fmt.Errorf("hello names %s/%s on %s", hello.OrganizationID, hello.DocumentID, key)
		sendError(ctx, ch, protocol.CodeProtocol, err.Error())
		return err
	}
	if !authenticated && !s.auth.Authenticate(hello.Token, key) {
		sendError(ctx, ch, protocol.CodeAuth, "invalid token")
		return errors.New("invalid token")
	}

	hub, err := s.acquire(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		sendError(ctx, ch, protocol.CodeNotFound, "no such document")
		return err
	}
	if err != nil {
		sendError(ctx, ch, protocol.CodeInternal, "document unavailable")
		return err
	}
	defer s.release(key)
	return hub.Serve(ctx, ch, hello)
}

func (s *Server) receiveHello(ctx context.Context, ch channel.Channel) (*protocol.Hello, error) {
	hctx, cancel := context.WithTimeout(ctx, s.handshakeTimeout)
	defer cancel()
	data, err := ch.Receive(hctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for hello: %w", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}
	hello, ok := msg.(*protocol.Hello)
	if !ok {
		return nil, fmt.Errorf("expected hello, got %s", msg.Type())
	}
	return hello, nil
}

// Hub returns the live hub of key, if any clients are connected.
func (s *Server) Hub(key store.Key) (*Hub, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.hubs[key]
	if !ok {
		return nil, false
	}
	return ref.hub, true
}

func (s *Server) acquire(ctx context.Context, key store.Key) (*Hub, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref, ok := s.hubs[key]; ok {
		ref.refs++
		return ref.hub, nil
	}
	hub, err := loadHub(ctx, key, s.hubCfg)
	if err != nil {
		return nil, err
	}
	s.hubs[key] = &hubRef{hub: hub, refs: 1}
	return hub, nil
}

// release drops the hub once its last connection is gone. The store holds
// everything needed to load it again.
func (s *Server) release(key store.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.hubs[key]
	if !ok {
		return
	}
	if ref.refs--; ref.refs == 0 {
		delete(s.hubs, key)
	}
}

func sendError(ctx context.Context, ch channel.Channel, code protocol.Code, msg string) {
	data, err := protocol.Encode(&protocol.ServerError{Code: code, Message: msg})
	if err != nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = ch.Send(sctx, data)
}
