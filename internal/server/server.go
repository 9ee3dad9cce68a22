// Package server hosts the WebSocket endpoint webview panels connect to.
// Each connection gets its own message consumer and sync bridge, so every
// webview independently receives state updates and can request file
// decisions and agent actions.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	// gorilla/websocket is the most popular WebSocket library for Go.
	// It provides a complete implementation of the WebSocket protocol
	// with support for reading/writing messages, ping/pong, and close handling.
	"github.com/gorilla/websocket"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/ibolton336/migrator-host/internal/agent"
	"github.com/ibolton336/migrator-host/internal/review"
	"github.com/ibolton336/migrator-host/internal/state"
)

// channelBufferSize is the buffer size for per-client send channels. This
// value balances memory usage against the ability to absorb bursts of
// messages without blocking senders. If the buffer fills up, messages may
// be dropped for slow clients.
const channelBufferSize = 256

// Default inbound chat rate limiting per connection.
const (
	defaultChatRatePerSec = 2.0
	defaultChatRateBurst  = 4
)

// AgentController is the slice of the agent client API the server drives
// in response to webview requests. Satisfied by *agent.Client.
type AgentController interface {
	Start(ctx context.Context) error
	Stop()
	SendMessage(responseID, content string) (string, error)
	CancelGeneration()
	State() agent.ClientState
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:7171".
	Addr string

	// Store is the application state store every connection syncs from.
	Store *state.Store

	// Agent drives the migration agent on webview request. May be nil in
	// tests; agent messages are then rejected.
	Agent AgentController

	// Workspace is the project root. File decisions resolve paths inside
	// it and refuse anything that escapes.
	Workspace string

	// Audit, when set, durably records every file decision.
	Audit review.AuditLog

	// RequireAuth rejects connections that do not present AccessToken.
	RequireAuth bool

	// AccessToken is the shared secret webviews must present when
	// RequireAuth is set. It is bcrypt-hashed at construction; the plain
	// value is not retained.
	AccessToken string

	// ChatRatePerSec and ChatRateBurst bound inbound agent-chat messages
	// per connection. Zero selects the defaults.
	ChatRatePerSec float64
	ChatRateBurst  int
}

// Server accepts webview WebSocket connections and routes their requests.
type Server struct {
	addr      string
	store     *state.Store
	agent     AgentController
	workspace string
	reviews   *review.Processor
	upgrader  websocket.Upgrader

	requireAuth bool
	tokenHash   []byte

	chatRate  rate.Limit
	chatBurst int

	mu         sync.RWMutex
	clients    map[*Client]bool
	stopped    bool
	httpServer *http.Server
}

// NewServer creates a server. Call StartAsync to begin accepting
// connections.
func NewServer(opts Options) (*Server, error) {
	s := &Server{
		addr:        opts.Addr,
		store:       opts.Store,
		agent:       opts.Agent,
		workspace:   opts.Workspace,
		requireAuth: opts.RequireAuth,
		chatRate:    rate.Limit(opts.ChatRatePerSec),
		chatBurst:   opts.ChatRateBurst,
		clients:     make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			// Webview panels connect from a vscode-webview:// origin that
			// varies per install, so origin checking buys nothing here.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.reviews = review.NewProcessor(opts.Store, opts.Workspace)
	if opts.Audit != nil {
		s.reviews.SetAuditLog(opts.Audit)
	}

	if s.chatRate <= 0 {
		s.chatRate = rate.Limit(defaultChatRatePerSec)
	}
	if s.chatBurst <= 0 {
		s.chatBurst = defaultChatRateBurst
	}

	if opts.RequireAuth {
		if opts.AccessToken == "" {
			return nil, fmt.Errorf("require_auth is set but no access token is configured")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.AccessToken), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash access token: %w", err)
		}
		s.tokenHash = hash
	}

	return s, nil
}

// createMux builds the HTTP routing table.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// StartAsync starts the server in a goroutine and returns any startup errors.
//
// The returned channel receives nil if startup succeeded, or an error if
// the listener could not be created (e.g., port already in use).
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	mux := s.createMux()

	// Create the listener first to detect port conflicts immediately.
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.httpServer = &http.Server{Handler: mux}
	httpServer := s.httpServer
	s.mu.Unlock()

	go func() {
		log.Printf("server: listening on %s", s.addr)
		errCh <- nil
		close(errCh)

		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("server: serve error: %v", err)
		}
	}()

	return errCh
}

// Addr returns the bound listen address, useful when the configured port
// was 0.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// ClientCount returns the number of connected webviews.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Stop gracefully shuts down the server: signal every client to stop,
// then close the HTTP server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for client := range s.clients {
		client.closeSend()
	}
	s.clients = make(map[*Client]bool)
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer != nil {
		return httpServer.Close()
	}
	return nil
}

// handleWebSocket authenticates and upgrades one webview connection, then
// wires it into the sync machinery: a queued consumer for outbound
// messages and a bridge subscribed to the store. Nothing is delivered
// until the webview announces readiness.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.requireAuth {
		token := extractBearerToken(r)
		if token == "" {
			log.Printf("server: connection rejected: missing token")
			http.Error(w, "Unauthorized: missing token", http.StatusUnauthorized)
			return
		}
		// bcrypt.CompareHashAndPassword handles timing-safe comparison
		if err := bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)); err != nil {
			log.Printf("server: connection rejected: invalid token")
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		conn.Close()
		return
	}
	client := newClient(s, conn)
	s.clients[client] = true
	s.mu.Unlock()

	log.Printf("server: webview connected (%d total)", s.ClientCount())

	go client.writePump()
	go client.readPump()
}

// extractBearerToken extracts the token from an Authorization header.
// Returns empty string if no valid bearer token is found.
// Supports both "Bearer <token>" header and "token" query parameter as
// fallback (webview WebSocket clients cannot always set headers).
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth != "" {
		const bearerPrefix = "Bearer "
		if len(auth) > len(bearerPrefix) {
			prefix := auth[:len(bearerPrefix)]
			if prefix == bearerPrefix || prefix == "bearer " {
				return auth[len(bearerPrefix):]
			}
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}
