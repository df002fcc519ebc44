package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/moonbotd/moonbotd/internal/auth"
	"github.com/moonbotd/moonbotd/internal/config"
	"github.com/moonbotd/moonbotd/internal/gatewayrpc"
	"github.com/moonbotd/moonbotd/internal/ratelimit"
)

const (
	defaultRequestTimeout   = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	defaultMaxFrameBytes    = 1 << 20 // 1 MiB
	pongWait                = 45 * time.Second
	pingInterval            = (pongWait * 9) / 10
	writeWait               = 10 * time.Second
)

// Facade is the subset of *gatewayrpc.Facade the Listener calls into. A
// narrow interface so this package's tests can supply a stub without
// constructing a full execution core.
type Facade interface {
	Handle(ctx context.Context, method gatewayrpc.Method, params json.RawMessage, cc gatewayrpc.CallContext) (any, error)
}

// Listener is the Transport component (spec §4.1): a loopback-only
// WebSocket server speaking one JSON-RPC 2.0 envelope per frame. It accepts
// connections, rate-limits them, requires a connect handshake before
// routing any other method, and implements gatewayrpc.Pusher so the Facade
// can reach back out with chat.response/approval.request/approval.update
// notifications.
type Listener struct {
	cfg     config.GatewayConfig
	auth    *auth.Service
	facade  Facade
	logger  *slog.Logger
	limiter *ratelimit.Limiter

	upgrader websocket.Upgrader

	httpServer *http.Server

	mu       sync.Mutex
	sessions map[string]*connSession
}

// New constructs a Listener. Call SetFacade before Serve if the Facade
// wasn't available at construction time (mirrors the
// SetPauser/SetPusher/SetNotifier post-construction-wiring pattern used
// elsewhere in the core, here broken because the Facade's own Deps don't
// depend on the Listener — only the reverse — so there's no cycle to
// break, but callers may still prefer to wire it in afterward).
func New(cfg config.GatewayConfig, authSvc *auth.Service, facade Facade, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default().With("component", "transport")
	}
	rlCfg := ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.Burst,
	}
	return &Listener{
		cfg:     cfg,
		auth:    authSvc,
		facade:  facade,
		logger:  logger,
		limiter: ratelimit.NewLimiter(rlCfg),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*connSession),
	}
}

// SetFacade wires the Facade in after construction.
func (l *Listener) SetFacade(f Facade) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.facade = f
}

// ErrNonLoopbackBind is returned by Serve when cfg.Host does not resolve to
// a loopback address (spec §4.1: "MUST reject non-loopback binds
// (fail-closed)"; §8: "A bind attempt to a non-loopback interface MUST
// fail at startup").
var ErrNonLoopbackBind = errors.New("transport: refusing to bind a non-loopback address")

// Serve listens and serves until ctx is cancelled or an unrecoverable
// listen error occurs. It never returns nil on a failed bind.
func (l *Listener) Serve(ctx context.Context) error {
	var ln net.Listener
	var err error
	if l.cfg.SocketPath != "" {
		ln, err = net.Listen("unix", l.cfg.SocketPath)
	} else {
		var addr string
		addr, err = l.bindAddr()
		if err == nil {
			ln, err = net.Listen("tcp", addr)
		}
	}
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", l.serveHTTP)
	l.httpServer = &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- l.httpServer.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// bindAddr resolves cfg.Host/Port to a loopback-only address, per spec
// §4.1/§8. A unix domain socket path is inherently loopback-equivalent
// (off-network) and is never rejected here.
func (l *Listener) bindAddr() (string, error) {
	if l.cfg.SocketPath != "" {
		return "", nil
	}
	host := l.cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	if !isLoopbackHost(host) {
		return "", fmt.Errorf("%w: %q", ErrNonLoopbackBind, host)
	}
	port := l.cfg.Port
	return fmt.Sprintf("%s:%d", host, port), nil
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost":
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (l *Listener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	remoteKey := remoteIPKey(r)
	if !l.limiter.Allow(remoteKey) {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &connSession{
		listener:  l,
		conn:      conn,
		send:      make(chan []byte, 64),
		ctx:       ctx,
		cancel:    cancel,
		remoteKey: remoteKey,
		logger:    l.logger.With("remote", remoteKey),
	}
	sess.run()
}

func remoteIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *Listener) registerSession(sess *connSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[sess.id] = sess
}

func (l *Listener) unregisterSession(sess *connSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sess.id)
}

// Push implements gatewayrpc.Pusher: it delivers a server-initiated
// notification to every connection registered under surface, or to every
// connected peer when surface is the broadcast pseudo-surface "*"
// (approval.request/approval.update have no single owning connection).
func (l *Listener) Push(_ context.Context, surface, method string, params any) error {
	l.mu.Lock()
	targets := make([]*connSession, 0, len(l.sessions))
	for _, sess := range l.sessions {
		if surface == "*" || sess.surface() == surface {
			targets = append(targets, sess)
		}
	}
	l.mu.Unlock()

	notification := newNotification(method, params)
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	for _, sess := range targets {
		sess.enqueue(data)
	}
	return nil
}
