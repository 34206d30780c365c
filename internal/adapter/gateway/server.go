// Package gateway exposes command state over WebSocket RPC and a small
// authenticated REST surface.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"shellherd/internal/domain"
	"shellherd/internal/infra/middleware"
)

const (
	// outboundQueue bounds frames buffered per connection. A client that
	// stops reading loses events rather than stalling the server.
	outboundQueue = 64

	writeTimeout  = 5 * time.Second
	shutdownGrace = 5 * time.Second

	// Rate limit applied to the whole HTTP surface.
	rateLimitPerMinute = 100
	rateLimitBurst     = 20
)

// localOriginPatterns lets browser clients on the same host connect.
// Non-browser clients send no Origin header and are not checked.
var localOriginPatterns = []string{
	"localhost", "localhost:*",
	"127.0.0.1", "127.0.0.1:*",
	"[::1]", "[::1]:*",
}

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// Server accepts WebSocket connections, routes request frames to RPC
// handlers, and fans command lifecycle events out to every connection.
type Server struct {
	bus    domain.EventBus
	auth   Authenticator
	addr   string
	logger *slog.Logger

	rpcMu sync.RWMutex
	rpc   map[string]RPCHandler

	mu       sync.Mutex
	sessions map[uint64]*session
	lastID   uint64

	extra map[string]http.HandlerFunc

	httpSrv  *http.Server
	bound    atomic.Value // listen address string, set once serving
	unsubAll func()
}

// session is one authenticated WebSocket connection.
type session struct {
	id     uint64
	client *ClientInfo
	ws     *websocket.Conn
	logger *slog.Logger

	out    chan Frame
	closed chan struct{}
	once   sync.Once
}

// NewServer creates a gateway server listening on addr once started.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger) *Server {
	return &Server{
		bus:      bus,
		auth:     auth,
		addr:     addr,
		logger:   logger,
		rpc:      make(map[string]RPCHandler),
		sessions: make(map[uint64]*session),
		extra:    make(map[string]http.HandlerFunc),
	}
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.rpcMu.Lock()
	s.rpc[method] = handler
	s.rpcMu.Unlock()
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.extra[pattern] = handler
}

// Start listens on the configured address and serves until ctx is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	s.httpSrv = &http.Server{Handler: s.routes(ctx)}
	s.unsubAll = s.bus.SubscribeAll(func(_ context.Context, event domain.Event) {
		s.broadcast(event)
	})
	s.bound.Store(listener.Addr().String())

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// routes assembles the mux and wraps it with security headers and rate
// limiting.
func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for pattern, handler := range s.extra {
		mux.HandleFunc(pattern, handler)
	}
	return middleware.SecurityHeaders(
		middleware.RateLimit(ctx, rateLimitPerMinute, rateLimitBurst)(mux),
	)
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}

	s.mu.Lock()
	closing := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		closing = append(closing, sess)
	}
	clear(s.sessions)
	s.mu.Unlock()

	for _, sess := range closing {
		sess.shutdown(websocket.StatusGoingAway, "server shutting down")
	}

	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the address the listener bound to, or "" before Start.
func (s *Server) BoundAddr() string {
	if v := s.bound.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// requestToken pulls the auth token from the query string or a bearer
// Authorization header.
func requestToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if rest, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return rest
	}
	return ""
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	client, err := s.auth.Authenticate(requestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: localOriginPatterns,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	sess := &session{
		client: client,
		ws:     ws,
		logger: s.logger,
		out:    make(chan Frame, outboundQueue),
		closed: make(chan struct{}),
	}
	s.addSession(sess)
	defer s.dropSession(sess)

	s.logger.Info("gateway client connected", "conn_id", sess.id, "client", client.Name)
	defer s.logger.Info("gateway client disconnected", "conn_id", sess.id)

	go sess.writeFrames()
	s.readFrames(r.Context(), sess)
	sess.shutdown(websocket.StatusNormalClosure, "")
}

func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastID++
	sess.id = s.lastID
	s.sessions[sess.id] = sess
}

func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

// broadcast fans one event out to every connected client. Sessions with a
// full outbound queue miss the event.
func (s *Server) broadcast(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("gateway: marshal event", "error", err)
		return
	}
	frame := Frame{Type: FrameTypeEvent, Payload: payload}

	s.mu.Lock()
	targets := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.mu.Unlock()

	for _, sess := range targets {
		if !sess.enqueue(frame) {
			s.logger.Warn("gateway: dropped event for slow client", "conn_id", sess.id)
		}
	}
}

// readFrames consumes request frames until the connection drops. Handlers
// run on their own goroutine so a slow call does not block the next read.
func (s *Server) readFrames(ctx context.Context, sess *session) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, sess.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}

		handler, ok := s.lookup(frame.Method)
		if !ok {
			sess.respond(frame.ID, nil, domain.ErrRPCMethodNotFound)
			continue
		}
		go func(req Frame) {
			result, err := handler(ctx, sess.client, req.Payload)
			sess.respond(req.ID, result, err)
		}(frame)
	}
}

func (s *Server) lookup(method string) (RPCHandler, bool) {
	s.rpcMu.RLock()
	defer s.rpcMu.RUnlock()
	h, ok := s.rpc[method]
	return h, ok
}

// shutdown closes the connection once; later calls are no-ops.
func (c *session) shutdown(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.closed)
		c.ws.Close(code, reason)
	})
}

// enqueue queues a frame for writing, reporting whether it fit.
func (c *session) enqueue(f Frame) bool {
	select {
	case c.out <- f:
		return true
	default:
		return false
	}
}

func (c *session) respond(id uint64, result json.RawMessage, err error) {
	frame := Frame{Type: FrameTypeResponse, ID: id, Payload: result}
	if err != nil {
		frame.Error = err.Error()
	}
	if !c.enqueue(frame) {
		c.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}

func (c *session) writeFrames() {
	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, c.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
