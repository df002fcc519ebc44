package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/moonbotd/moonbotd/internal/gatewayrpc"
	"github.com/moonbotd/moonbotd/internal/rpcerr"
)

// connectParams is connect's params: client type, version, and bearer token
// (spec §4.1: "The first message MUST be a connect handshake carrying a
// client type, version, and bearer token").
type connectParams struct {
	ClientType    string `json:"clientType"`
	ClientVersion string `json:"clientVersion"`
	Token         string `json:"token"`
}

type connectResult struct {
	OK      bool   `json:"ok"`
	Surface string `json:"surface"`
}

// connSession is one accepted WebSocket connection: the send-channel-plus-
// two-goroutines model, read/write deadlines and ping/pong keepalive are
// grounded on the teacher's wsSession (internal/gateway/ws_control_plane.go),
// reshaped around real JSON-RPC 2.0 envelopes instead of the teacher's
// bespoke wsFrame.
type connSession struct {
	listener  *Listener
	conn      *websocket.Conn
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	remoteKey string
	logger    *slog.Logger

	id          string
	connected   atomic.Bool
	surfaceName atomic.Value // string
}

func (s *connSession) surface() string {
	v := s.surfaceName.Load()
	if v == nil {
		return ""
	}
	return v.(string)
}

func (s *connSession) run() {
	s.id = uuid.NewString()
	s.listener.registerSession(s)
	defer s.listener.unregisterSession(s)
	defer s.close()

	go s.writeLoop()
	s.readLoop()
}

func (s *connSession) close() {
	s.cancel()
	close(s.send)
	_ = s.conn.Close()
}

func (s *connSession) enqueue(data []byte) {
	select {
	case s.send <- data:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("dropping outbound frame: send buffer full")
	}
}

func (s *connSession) readLoop() {
	s.conn.SetReadLimit(s.maxFrameBytes())
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	handshakeDeadline := time.AfterFunc(s.handshakeTimeout(), func() {
		if !s.connected.Load() {
			s.cancel()
		}
	})
	defer handshakeDeadline.Stop()

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			s.writeError(nil, codeParseError, "malformed frame: "+err.Error(), codeData(rpcerr.MalformedFrame))
			continue
		}

		if !s.connected.Load() {
			if req.Method != "connect" {
				s.writeError(req.ID, codeServerError, "first request must be connect", codeData(rpcerr.AuthFailed))
				s.cancel()
				return
			}
			if err := s.handleConnect(req); err != nil {
				s.writeError(req.ID, codeServerError, err.Error(), codeData(rpcerr.AuthFailed))
				s.cancel()
				return
			}
			continue
		}

		s.handleRequest(req)
	}
}

func (s *connSession) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case data, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (s *connSession) handleConnect(req request) error {
	var params connectParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}
	if params.ClientType == "" {
		return errors.New("connect: clientType is required")
	}

	if s.listener.auth != nil && s.listener.auth.Enabled() {
		if err := s.listener.auth.ValidateToken(params.Token); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
	}

	s.surfaceName.Store(params.ClientType)
	s.connected.Store(true)

	result := connectResult{OK: true, Surface: params.ClientType}
	data, err := json.Marshal(newResult(req.ID, result))
	if err != nil {
		return err
	}
	s.enqueue(data)
	return nil
}

// handleRequest dispatches one post-handshake request to the Facade,
// honoring a per-request timeout (spec §4.1: "Requests time out after a
// configurable default if the handler does not respond").
func (s *connSession) handleRequest(req request) {
	ctx, cancel := context.WithTimeout(s.ctx, s.requestTimeout())
	defer cancel()

	method := gatewayrpc.Method(req.Method)
	cc := gatewayrpc.CallContext{Surface: s.surface()}

	resultCh := make(chan struct {
		result any
		err    error
	}, 1)
	go func() {
		result, err := s.listener.facade.Handle(ctx, method, req.Params, cc)
		resultCh <- struct {
			result any
			err    error
		}{result, err}
	}()

	select {
	case out := <-resultCh:
		if out.err != nil {
			s.writeFacadeError(req.ID, out.err)
			return
		}
		data, err := json.Marshal(newResult(req.ID, out.result))
		if err != nil {
			s.writeError(req.ID, codeInternalError, err.Error(), nil)
			return
		}
		s.enqueue(data)
	case <-ctx.Done():
		s.writeError(req.ID, codeServerError, "request timed out", codeData(rpcerr.RequestTimeout))
	}
}

func (s *connSession) writeFacadeError(id json.RawMessage, err error) {
	if domainErr, ok := rpcerr.As(err); ok {
		s.writeError(id, jsonRPCCodeFor(domainErr.Code), domainErr.Error(), errorData(domainErr))
		return
	}
	s.writeError(id, codeInternalError, err.Error(), nil)
}

func (s *connSession) writeError(id json.RawMessage, code int, message string, data any) {
	envelope := newError(id, code, message, data)
	raw, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	s.enqueue(raw)
}

// codeData wraps a transport-level domain code (spec §7's "Transport"
// kinds) the same shape errorData uses for tool-invocation errors, so
// error.data is consistently {code, fields?} across both sources.
func codeData(code rpcerr.Code) any {
	return map[string]any{"code": code}
}

func errorData(e *rpcerr.Error) any {
	if len(e.Fields) == 0 {
		return codeData(e.Code)
	}
	return map[string]any{"code": e.Code, "fields": e.Fields}
}

// jsonRPCCodeFor maps a domain error code onto the standard JSON-RPC error
// code whose semantics it matches most closely; the domain code itself
// always travels in error.data (spec §6).
func jsonRPCCodeFor(code rpcerr.Code) int {
	switch code {
	case rpcerr.ToolNotFound, rpcerr.MethodNotFound:
		return codeMethodNotFound
	case rpcerr.InvalidInput:
		return codeInvalidParams
	case rpcerr.AuthFailed:
		return codeServerError - 1
	case rpcerr.RateLimited:
		return codeServerError - 2
	case rpcerr.RequestTimeout:
		return codeServerError - 3
	case rpcerr.MalformedFrame:
		return codeInvalidRequest
	default:
		return codeServerError
	}
}

func (s *connSession) maxFrameBytes() int64 {
	if s.listener.cfg.MaxFrameBytes > 0 {
		return s.listener.cfg.MaxFrameBytes
	}
	return defaultMaxFrameBytes
}

func (s *connSession) handshakeTimeout() time.Duration {
	if s.listener.cfg.HandshakeTimeout > 0 {
		return s.listener.cfg.HandshakeTimeout
	}
	return defaultHandshakeTimeout
}

func (s *connSession) requestTimeout() time.Duration {
	if s.listener.cfg.RequestTimeout > 0 {
		return s.listener.cfg.RequestTimeout
	}
	return defaultRequestTimeout
}
