package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/iwvelando/sales-forecast/internal/forecast"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Session message types.
const (
	MessageForecast = "forecast"
	MessageFailure  = "failure"
	MessageCancel   = "cancel"
	MessageError    = "error"
)

// checkOrigin accepts clients that send no Origin header, origins listed in
// allowedOrigins ("*" allows any), and pages served from the same host.
func (h *handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// sessionRequest is a client message. An empty type or "forecast" submits
// the embedded request; "cancel" abandons the in-flight run.
type sessionRequest struct {
	Type string `json:"type"`
	forecast.Request
}

// sessionMessage is a server message.
type sessionMessage struct {
	Type       string            `json:"type"`
	Generation uint64            `json:"generation,omitempty"`
	Result     *forecastResponse `json:"result,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// session serves one WebSocket client. Only the most recent pending message
// is kept: a result that has not been written yet is replaced by a newer one.
type session struct {
	id     string
	logger *zap.Logger
	conn   *websocket.Conn
	runner *forecast.Runner

	mu      sync.Mutex
	pending []byte
	notify  chan struct{}
	done    chan struct{}
}

func (h *handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("op", "server.handleWebSocket"),
			zap.Error(err),
		)
		return
	}

	s := &session{
		id:     uuid.NewString(),
		logger: h.logger,
		conn:   conn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.runner = forecast.NewRunner(h.logger, h.registry, forecast.SinkFunc(s.deliver))

	h.logger.Info("websocket session opened",
		zap.String("op", "server.handleWebSocket"),
		zap.String("session", s.id),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go s.writePump()
	s.readPump(ctx, h)

	cancel()
	s.runner.Close()
	close(s.done)

	h.logger.Info("websocket session closed",
		zap.String("op", "server.handleWebSocket"),
		zap.String("session", s.id),
	)
}

func (s *session) readPump(ctx context.Context, h *handler) {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read failed",
					zap.String("op", "server.session.readPump"),
					zap.String("session", s.id),
					zap.Error(err),
				)
			}
			return
		}

		var msg sessionRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(sessionMessage{Type: MessageError, Error: "malformed request: " + err.Error()})
			continue
		}

		switch msg.Type {
		case "", MessageForecast:
			gen := s.runner.Submit(ctx, h.store.Observations(), msg.Request)
			s.logger.Debug("forecast submitted",
				zap.String("op", "server.session.readPump"),
				zap.String("session", s.id),
				zap.Uint64("generation", gen),
				zap.String("algorithm", msg.Algorithm),
			)
		case MessageCancel:
			s.runner.Cancel()
			s.discardPending()
		default:
			s.send(sessionMessage{Type: MessageError, Error: "unknown message type " + msg.Type})
		}
	}
}

// deliver is the runner's sink. It is only ever called with the current
// generation's outcome.
func (s *session) deliver(o forecast.Outcome) {
	resp := buildResponse(o.Forecast)
	msg := sessionMessage{Type: MessageForecast, Generation: o.Forecast.Generation, Result: &resp}
	if o.Err != nil {
		msg.Type = MessageFailure
		msg.Error = o.Err.Error()
		resp.Error = msg.Error
	}
	s.send(msg)
}

func (s *session) send(msg sessionMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to encode session message",
			zap.String("op", "server.session.send"),
			zap.String("session", s.id),
			zap.Uint64("generation", msg.Generation),
			zap.Error(err),
		)
		// A generation that cannot be encoded is reported as a failure.
		failure := sessionMessage{
			Type:       MessageFailure,
			Generation: msg.Generation,
			Result:     &forecastResponse{Forecast: forecast.Forecast{Points: []forecast.Point{}}},
			Error:      "failed to encode result: " + err.Error(),
		}
		failure.Result.Error = failure.Error
		if data, err = json.Marshal(failure); err != nil {
			return
		}
	}

	s.mu.Lock()
	s.pending = data
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *session) discardPending() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

func (s *session) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := s.pending
	s.pending = nil
	return data
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-s.notify:
			data := s.take()
			if data == nil {
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("websocket write failed",
					zap.String("op", "server.session.writePump"),
					zap.String("session", s.id),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
