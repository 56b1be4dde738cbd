// Package wsgateway upgrades HTTP connections to WebSocket and drives each
// one's read loop: auth handshake, binary audio framing, and tagged-envelope
// control messages, dispatching into internal/session.
package wsgateway

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"streamspeech/config"
	"streamspeech/internal/clientdetect"
	"streamspeech/internal/logger"
	"streamspeech/internal/protocol"
	"streamspeech/internal/session"
)

// Handler upgrades and serves WebSocket connections.
type Handler struct {
	cfg            *config.Config
	sessionManager *session.Manager
	upgrader       websocket.Upgrader
}

// NewHandler builds a wsgateway Handler.
func NewHandler(cfg *config.Config, sessionManager *session.Manager) *Handler {
	return &Handler{
		cfg:            cfg,
		sessionManager: sessionManager,
		upgrader: websocket.Upgrader{
			CheckOrigin:       originChecker(cfg.Server.WebSocket),
			ReadBufferSize:    cfg.Server.WebSocket.ReadBufferSize,
			WriteBufferSize:   cfg.Server.WebSocket.WriteBufferSize,
			EnableCompression: cfg.Server.WebSocket.EnableCompression,
		},
	}
}

// originChecker builds the upgrade origin policy: everything when
// allow_all_origins is set, otherwise only same-origin-less requests (native
// clients) and the configured allowlist.
func originChecker(cfg config.WebSocketConfig) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if cfg.AllowAllOrigins {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range cfg.AllowedOrigins {
			if allowed == origin {
				return true
			}
		}
		return false
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the connection and runs its session loop until
// the client disconnects or an unrecoverable protocol error occurs.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket_upgrade_failed", "error", err)
		return
	}

	wsCfg := h.cfg.Server.WebSocket
	if wsCfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.ReadTimeout) * time.Second))
	}

	sessionID := session.GenerateSessionID()
	clientType := clientdetect.Detect(r)

	sess, err := h.sessionManager.CreateSession(sessionID, conn, r.RemoteAddr, "", clientType)
	if err == session.ErrServerBusy {
		writeAndClose(conn, protocol.TypeSessionBusy, nil)
		return
	}
	if err != nil {
		logger.Error("failed_to_create_session", "session_id", sessionID, "error", err)
		conn.Close()
		return
	}
	defer func() {
		h.sessionManager.RemoveSession(sessionID)
		logger.Info("websocket_connection_closed", "session_id", sessionID)
	}()

	logger.Info("websocket_connection_established", "session_id", sessionID, "client_type", clientType)

	if sess.Authenticated() {
		// Localhost bypass (or require_token=false): no handshake needed.
		sess.Send(protocol.TypeAuthOK, protocol.AuthOKPayload{
			ClientName:   sess.ClientName,
			ClientType:   sess.ClientType,
			Capabilities: sess.Capabilities,
		})
	} else {
		// The client has until the auth timeout to present a token; a
		// connection that never sends auth is closed by the expired read
		// deadline.
		conn.SetReadDeadline(time.Now().Add(time.Duration(h.cfg.Server.WebSocket.AuthTimeoutSec) * time.Second))
	}

	h.readLoop(conn, sess, sessionID, wsCfg)
}

func (h *Handler) readLoop(conn *websocket.Conn, sess *session.Session, sessionID string, wsCfg config.WebSocketConfig) {
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("websocket_read_error", "session_id", sessionID)
			return
		}

		if wsCfg.ReadTimeout > 0 && sess.Authenticated() {
			conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.ReadTimeout) * time.Second))
		}

		if wsCfg.MaxMessageSize > 0 && len(message) > wsCfg.MaxMessageSize {
			logger.Warn("websocket_message_too_large", "session_id", sessionID, "size", len(message))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			h.handleBinaryFrame(sess, message)
		case websocket.TextMessage:
			h.handleEnvelope(sess, sessionID, message)
		}
	}
}

// parseBinaryFrame splits a binary audio message framed as
// [uint32 LE length][JSON metadata][PCM bytes] into its PCM payload and the
// metadata's declared sample rate. The metadata is advisory: a missing or
// empty preamble falls back to defaultRate, and the declared rate only
// drives resampling downstream, never rejection.
func parseBinaryFrame(message []byte, defaultRate int) (pcm []byte, sampleRate int, err error) {
	if len(message) < 4 {
		return nil, 0, fmt.Errorf("wsgateway: binary frame too short (%d bytes)", len(message))
	}
	metaLen := binary.LittleEndian.Uint32(message[:4])
	if int(metaLen) > len(message)-4 {
		return nil, 0, fmt.Errorf("wsgateway: metadata length %d exceeds frame", metaLen)
	}

	meta := protocol.AudioMeta{SampleRate: defaultRate}
	if metaLen > 0 {
		if err := json.Unmarshal(message[4:4+metaLen], &meta); err != nil {
			return nil, 0, fmt.Errorf("wsgateway: bad metadata JSON: %w", err)
		}
	}
	if meta.SampleRate <= 0 {
		meta.SampleRate = defaultRate
	}
	return message[4+metaLen:], meta.SampleRate, nil
}

// handleBinaryFrame parses a binary audio message and forwards the PCM
// payload to the session. Malformed frames are dropped with a log; the
// session stays open.
func (h *Handler) handleBinaryFrame(sess *session.Session, message []byte) {
	pcm, sampleRate, err := parseBinaryFrame(message, h.cfg.Audio.SampleRate)
	if err != nil {
		logger.Warn("binary_frame_rejected", "session_id", sess.ID, "error", err)
		return
	}
	if sampleRate != h.cfg.Audio.SampleRate {
		logger.Debug("binary_frame_nonworking_rate", "session_id", sess.ID, "sample_rate", sampleRate)
	}
	if !sess.Authenticated() {
		return
	}
	sess.FeedAudio(pcm, sampleRate)
}

// handleEnvelope decodes a text frame as a protocol.Envelope and dispatches
// it to the session.
func (h *Handler) handleEnvelope(sess *session.Session, sessionID string, message []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		logger.Warn("invalid_envelope", "session_id", sessionID, "error", err)
		return
	}

	switch env.Type {
	case protocol.TypeAuth:
		h.handleAuth(sess, env)
	case protocol.TypeGetCapabilities:
		sess.Send(protocol.TypeCapabilities, protocol.CapabilitiesPayload{
			ClientType:   sess.ClientType,
			Capabilities: sess.Capabilities,
		})
	case protocol.TypeStart:
		h.handleStart(sess, env)
	case protocol.TypeStop:
		sess.StopRecording()
	case protocol.TypePing:
		sess.Send(protocol.TypePong, nil)
	default:
		logger.Warn("unknown_envelope_type", "session_id", sessionID, "type", env.Type)
	}
}

func (h *Handler) handleAuth(sess *session.Session, env protocol.Envelope) {
	if sess.Authenticated() {
		sess.Send(protocol.TypeAuthOK, protocol.AuthOKPayload{
			ClientName:   sess.ClientName,
			ClientType:   sess.ClientType,
			Capabilities: sess.Capabilities,
		})
		return
	}

	var payload protocol.AuthPayload
	_ = json.Unmarshal(env.Data, &payload)

	if ok, clientName, isAdmin := h.sessionManager.AuthenticateToken(payload.Token, sess.RemoteAddr); ok {
		sess.MarkAuthenticated(clientName, isAdmin)
		sess.Send(protocol.TypeAuthOK, protocol.AuthOKPayload{
			ClientName:   sess.ClientName,
			ClientType:   sess.ClientType,
			Capabilities: sess.Capabilities,
		})
	} else {
		sess.Send(protocol.TypeAuthFail, protocol.AuthFailPayload{Message: "invalid or missing token"})
	}
}

func (h *Handler) handleStart(sess *session.Session, env protocol.Envelope) {
	if !sess.Authenticated() {
		sess.Send(protocol.TypeError, protocol.ErrorPayload{Message: "not authenticated"})
		return
	}

	var payload protocol.StartPayload
	_ = json.Unmarshal(env.Data, &payload)

	sess.SetLanguage(payload.Language)
	useVAD := payload.UseVADOrDefault()
	ok, busyUser := sess.StartRecording(useVAD)
	if !ok {
		sess.Send(protocol.TypeSessionBusy, protocol.SessionBusyPayload{ActiveUser: busyUser})
		return
	}
	sess.Send(protocol.TypeSessionStarted, protocol.SessionStartedPayload{
		VADEnabled:     useVAD,
		PreviewEnabled: sess.Capabilities.SupportsPreview,
	})
}

func writeAndClose(conn *websocket.Conn, msgType string, payload interface{}) {
	env := protocol.Envelope{Type: msgType, Timestamp: float64(time.Now().UnixNano()) / 1e9}
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			env.Data = b
		}
	}
	conn.WriteJSON(env)
	conn.Close()
}
