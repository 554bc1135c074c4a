package gateway

import (
	"context"
	"errors"
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

	"agenthost/internal/domain"
	"agenthost/internal/infra/middleware"
)

const (
	defaultClientQueue = 64
	writeTimeout       = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	info      *ClientInfo
	ws        *websocket.Conn
	filter    eventFilter
	seq       atomic.Uint64
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) close() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// eventFilter narrows the events a client receives. Zero value passes all.
type eventFilter struct {
	types map[domain.EventType]bool
	runID string
}

func (f eventFilter) match(e domain.Event) bool {
	if len(f.types) > 0 && !f.types[e.Type] {
		return false
	}
	return f.runID == "" || f.runID == e.RunID
}

func parseFilter(r *http.Request) eventFilter {
	var f eventFilter
	q := r.URL.Query()
	if v := q.Get("types"); v != "" {
		f.types = make(map[domain.EventType]bool)
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.types[domain.EventType(t)] = true
			}
		}
	}
	f.runID = q.Get("run_id")
	return f
}

// Option configures a Server.
type Option func(*Server)

// WithClientQueue sets the per-client outbound queue length.
func WithClientQueue(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.queue = n
		}
	}
}

// WithMiddleware wraps every endpoint, first argument outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) { s.middleware = append(s.middleware, mws...) }
}

// WithBusDropped reports the bus's own drop counter on the status endpoints.
func WithBusDropped(fn func() uint64) Option {
	return func(s *Server) { s.busDropped = fn }
}

// Server streams platform events to WebSocket clients and serves status
// endpoints. Clients only listen; frames they send close the connection.
type Server struct {
	bus        domain.EventBus
	auth       Authenticator
	logger     *slog.Logger
	addr       string
	queue      int
	busDropped func() uint64
	middleware []middleware.Middleware

	clients sync.Map // connID (uint64) -> *clientConn
	nextID  atomic.Uint64
	metrics Metrics
	started time.Time

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	unsubAll  func()
	ready     chan struct{}
	stopOnce  sync.Once
	stopErr   error
}

// NewServer creates a feed server.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		bus:    bus,
		auth:   auth,
		logger: logger,
		addr:   addr,
		queue:  defaultClientQueue,
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the address the server bound to. Only valid after Ready.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Metrics returns the server's counters.
func (s *Server) Metrics() *Metrics { return &s.metrics }

// Start begins accepting connections. Blocks until ctx is cancelled or
// Stop is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/metrics", s.metricsHandler)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	srv := &http.Server{
		Handler:           middleware.Chain(mux, s.middleware...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	unsub := s.bus.SubscribeAll(s.forward)

	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.unsubAll = unsub
	s.started = time.Now()
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("event feed started", "addr", listener.Addr().String())

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop(context.Background())
		case <-stopped:
		}
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// forward fans one bus event out to every matching client without blocking.
func (s *Server) forward(_ context.Context, event domain.Event) {
	if event.Type == domain.EventRunFinished {
		s.metrics.RunsFinished.Add(1)
	}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		if !cc.filter.match(event) {
			return true
		}
		e := event
		frame := Frame{Type: FrameTypeEvent, Seq: cc.seq.Add(1), Event: &e}
		select {
		case cc.sendCh <- frame:
			s.metrics.EventsForwarded.Add(1)
		default:
			s.metrics.EventsDropped.Add(1)
			s.logger.Warn("gateway: dropped event for slow client",
				"client", cc.info.Name, "type", event.Type)
		}
		return true
	})
}

// Stop shuts the server down and disconnects every client. Safe to call
// more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		srv, unsub := s.httpSrv, s.unsubAll
		s.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		s.clients.Range(func(key, value any) bool {
			cc := value.(*clientConn)
			cc.close()
			cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
			s.clients.Delete(key)
			return true
		})
		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			s.stopErr = srv.Shutdown(shutdownCtx)
		}
	})
	return s.stopErr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	n := 0
	s.clients.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	clientInfo, err := s.auth.Authenticate(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		info:   clientInfo,
		ws:     ws,
		filter: parseFilter(r),
		sendCh: make(chan Frame, s.queue),
		done:   make(chan struct{}),
	}
	cc.sendCh <- Frame{Type: FrameTypeHello, Seq: cc.seq.Add(1), Client: clientInfo.Name}
	s.clients.Store(connID, cc)

	s.logger.Info("feed client connected", "conn_id", connID, "client", clientInfo.Name)

	// CloseRead discards inbound frames and cancels ctx when the peer goes away.
	ctx := ws.CloseRead(r.Context())
	go s.writeLoop(cc)

	select {
	case <-ctx.Done():
	case <-cc.done:
	}

	cc.close()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("feed client disconnected", "conn_id", connID)
}

func (s *Server) writeLoop(cc *clientConn) {
	defer cc.close()
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
