package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"roomrelay/internal/core/domain"
	"roomrelay/internal/core/ports"
	"roomrelay/internal/core/services"
	"roomrelay/pkg/config"
	"roomrelay/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IdentityResolver turns a handshake token into an identity.
type IdentityResolver interface {
	IdentityFromToken(token string) (domain.Identity, error)
}

type Options struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	MaxMessageSize int64
	CookieName     string
	AllowedOrigins []string

	// Per-connection inbound limit. Zero disables it.
	MessagesPerSecond float64
	Burst             int
}

// OptionsFromConfig maps the signal, auth and rate limiting sections.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendBuffer:     cfg.Signal.SendBuffer,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
		CookieName:     cfg.Auth.CookieName,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		opts.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		opts.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	return opts
}

type Dependencies struct {
	Auth      IdentityResolver
	Registry  *services.ConnectionRegistry
	Admission *services.AdmissionService
	Rooms     *services.RoomService
	Relay     *services.RelayService
	Metrics   ports.MetricsRecorder
}

type WebSocketServer struct {
	auth      IdentityResolver
	registry  *services.ConnectionRegistry
	admission *services.AdmissionService
	rooms     *services.RoomService
	relay     *services.RelayService
	metrics   ports.MetricsRecorder

	upgrader websocket.Upgrader
	opts     Options
	handlers map[string]handlerFunc

	startedAt time.Time
	wg        sync.WaitGroup

	mu       sync.Mutex
	draining bool

	logger *zap.SugaredLogger
}

func NewWebSocketServer(deps Dependencies, opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	s := &WebSocketServer{
		auth:      deps.Auth,
		registry:  deps.Registry,
		admission: deps.Admission,
		rooms:     deps.Rooms,
		relay:     deps.Relay,
		metrics:   deps.Metrics,
		opts:      opts,
		startedAt: time.Now(),
		logger:    logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.handlers = s.buildHandlers()
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// tokenFromRequest checks the cookie, then the token query parameter, then
// the Authorization header.
func (s *WebSocketServer) tokenFromRequest(r *http.Request) string {
	if s.opts.CookieName != "" {
		if c, err := r.Cookie(s.opts.CookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// HandleWebSocket upgrades the request, authenticates it, and serves the
// connection until it closes.
func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	identity, err := s.authenticate(r)
	if err != nil {
		s.logger.Infow("websocket handshake rejected", "remote_addr", r.RemoteAddr, "error", err)
		s.metrics.RecordConnection("rejected")
		s.rejectHandshake(ws, "Authentication error: "+err.Error(), websocket.ClosePolicyViolation, "unauthorized")
		return
	}

	conn := newWSConnection(ws, domain.ConnectionID(utils.GenerateConnectionID()), identity, s.opts, s.logger)
	if !s.track(conn) {
		s.metrics.RecordConnection("rejected")
		s.rejectHandshake(ws, "Server is shutting down", websocket.CloseGoingAway, "shutting down")
		return
	}
	defer s.wg.Done()
	go conn.writePump()

	s.metrics.RecordConnection("connected")
	_ = conn.Send(domain.Event{
		Name:    domain.EventConnected,
		Payload: domain.ConnectedPayload{UserID: conn.UserID(), ConnectionID: conn.ID()},
	})

	s.readLoop(r.Context(), conn)
	s.cleanup(conn)
}

func (s *WebSocketServer) authenticate(r *http.Request) (domain.Identity, error) {
	token := s.tokenFromRequest(r)
	if token == "" {
		return domain.Identity{}, errors.New("token missing")
	}
	identity, err := s.auth.IdentityFromToken(token)
	if err != nil {
		s.logger.Debugw("websocket token rejected", "token", utils.MaskSensitive(token, 8), "error", err)
	}
	return identity, err
}

// track registers conn and counts it toward Shutdown's wait. It refuses once
// Shutdown has started.
func (s *WebSocketServer) track(conn *WSConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.wg.Add(1)
	s.registry.Register(conn)
	return true
}

func (s *WebSocketServer) rejectHandshake(ws *websocket.Conn, message string, code int, reason string) {
	defer ws.Close()
	deadline := time.Now().Add(s.opts.WriteTimeout)
	_ = ws.SetWriteDeadline(deadline)
	_ = ws.WriteJSON(domain.Event{
		Name:    domain.EventSocketError,
		Payload: domain.MessagePayload{Message: message},
	})
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
}

func (s *WebSocketServer) readLoop(ctx context.Context, conn *WSConnection) {
	ws := conn.ws
	ws.SetReadLimit(s.opts.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	})

	var limiter *rate.Limiter
	if s.opts.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) && !conn.isClosed() {
				conn.logger.Infow("websocket read failed", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(conn, "", domain.ErrInvalidMessage)
			continue
		}

		if limiter != nil && !limiter.Allow() {
			s.sendError(conn, msg.Type, domain.ErrRateLimited)
			continue
		}

		s.dispatch(ctx, conn, msg)
	}
}

// cleanup runs once per handle after its read loop ends.
func (s *WebSocketServer) cleanup(conn *WSConnection) {
	current := s.registry.UnregisterConnection(conn)
	abandoned := 0
	if current {
		abandoned = s.admission.AbandonRequester(conn.UserID())
	}
	_ = conn.Close()

	s.metrics.RecordConnection("disconnected")
	conn.logger.Infow("websocket disconnected",
		"was_current", current,
		"pending_abandoned", abandoned,
	)
}

func (s *WebSocketServer) sendError(conn *WSConnection, event string, err error) {
	appErr := domain.Classify(err)
	s.metrics.RecordError("websocket", string(appErr.Code))
	if sendErr := conn.Send(domain.Event{
		Name: domain.EventError,
		Payload: domain.ErrorPayload{
			Code:    string(appErr.Code),
			Message: appErr.Message,
			Event:   event,
		},
	}); sendErr != nil {
		conn.logger.Debugw("failed to deliver error event", "event", event, "error", sendErr)
	}
}

// Shutdown closes every registered connection and waits for their read
// loops to finish or ctx to expire.
func (s *WebSocketServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	for _, user := range s.registry.Users() {
		if conn, ok := s.registry.Resolve(user); ok {
			_ = conn.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionCount returns the number of registered identities.
func (s *WebSocketServer) ConnectionCount() int {
	return s.registry.Count()
}

func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"uptime":      time.Since(s.startedAt).Round(time.Second).String(),
		"connections": s.ConnectionCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
