package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"streamspeech/config"
	"streamspeech/internal/audio"
	"streamspeech/internal/clientdetect"
	"streamspeech/internal/engine"
	"streamspeech/internal/jobtracker"
	"streamspeech/internal/logger"
	"streamspeech/internal/modelmanager"
	"streamspeech/internal/protocol"
	"streamspeech/internal/recorder"
	"streamspeech/internal/vad"
)

// ErrServerBusy is returned by Manager.CreateSession when max_connections
// has been reached.
var ErrServerBusy = errors.New("session: server at max connections")

// Session is one authenticated WebSocket connection driving a Recorder.
type Session struct {
	ID           string
	ClientName   string
	IsAdmin      bool
	ClientType   clientdetect.ClientType
	Capabilities clientdetect.Capabilities
	Conn         *websocket.Conn
	RemoteAddr   string
	LastSeen     int64

	cfg *config.Config
	mm  *modelmanager.Manager
	jt  *jobtracker.Tracker

	rec *recorder.Recorder
	det *vad.Detector

	realtime engine.RealtimeEngine

	ctx    context.Context
	cancel context.CancelFunc

	SendQueue    chan protocol.Envelope
	sendDone     chan struct{}
	sendErrCount int32
	closed       int32

	mu            sync.Mutex
	lastPreview   string
	lastPreviewAt time.Time
	language      string
	jobID         string

	// jobCancelled records that this session's job was cancelled before it
	// was released, so the pending utterance's transcription is skipped and
	// no final{} is emitted for it.
	jobCancelled atomic.Bool

	authenticated int32

	releaseFn func() // releases the realtime engine and closes the detector on close
}

// newSession constructs a Session with its Recorder wired to the detector
// and this Session as the owner. The caller is responsible for starting
// sendLoop and, once authenticated, calling MarkAuthenticated.
func newSession(cfg *config.Config, mm *modelmanager.Manager, jt *jobtracker.Tracker, id string, conn *websocket.Conn, remoteAddr string, clientType clientdetect.ClientType, det *vad.Detector, ctx context.Context, cancel context.CancelFunc) *Session {
	s := &Session{
		ID:           id,
		ClientType:   clientType,
		Capabilities: clientdetect.CapabilitiesFor(clientType),
		Conn:         conn,
		RemoteAddr:   remoteAddr,
		LastSeen:     time.Now().UnixNano(),
		cfg:          cfg,
		mm:           mm,
		jt:           jt,
		det:          det,
		ctx:          ctx,
		cancel:       cancel,
		SendQueue:    make(chan protocol.Envelope, cfg.Session.SendQueueSize),
		sendDone:     make(chan struct{}),
		language:     cfg.LongformRecording.Language,
	}
	s.rec = recorder.New(cfg.Recorder, cfg.Audio.SampleRate, det, s)
	return s
}

// SetLanguage overrides the session's transcription language. An empty value
// restores the configured default (empty default means auto-detect).
func (s *Session) SetLanguage(language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if language == "" {
		language = s.cfg.LongformRecording.Language
	}
	s.language = language
}

// Language returns the session's current transcription language; empty means
// auto-detect.
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.language
}

func send(s *Session, msgType string, payload interface{}) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			logger.Error("envelope_marshal_failed", "session_id", s.ID, "type", msgType, "error", err)
			return
		}
		raw = b
	}
	env := protocol.Envelope{Type: msgType, Data: raw, Timestamp: float64(time.Now().UnixNano()) / 1e9}
	select {
	case s.SendQueue <- env:
	default:
		logger.Warn("session_send_queue_full", "session_id", s.ID, "type", msgType)
	}
}

// Send queues msgType/payload for delivery to the client. Exported for
// internal/wsgateway, which owns the auth handshake and needs to send
// auth_ok/auth_fail/capabilities responses that don't originate from the
// Recorder's event callbacks.
func (s *Session) Send(msgType string, payload interface{}) { send(s, msgType, payload) }

// OnVADStart implements recorder.Owner.
func (s *Session) OnVADStart() { send(s, protocol.TypeVADStart, nil) }

// OnVADStop implements recorder.Owner.
func (s *Session) OnVADStop() { send(s, protocol.TypeVADStop, nil) }

// OnRecordingStart implements recorder.Owner.
func (s *Session) OnRecordingStart() { send(s, protocol.TypeRecordingStart, nil) }

// OnRecordingStop implements recorder.Owner. A recording only ever ends once
// per start{} cycle (the recorder returns to Inactive and must be re-armed),
// so this is also where the session's held job slot, if any, is released.
func (s *Session) OnRecordingStop() {
	send(s, protocol.TypeRecordingStop, nil)
	s.releaseJob()
}

// OnUtterance implements recorder.Owner: a finished utterance is handed to
// the realtime engine (if one backs this session) or the shared file
// engine, and the result is queued for delivery once ready. Utterances
// shorter than MinUtteranceDuration are reported as an empty final without
// ever reaching an engine.
func (s *Session) OnUtterance(samples []int16, sampleRate int) {
	frame := audio.Frame{Samples: samples, SampleRate: sampleRate}

	if s.jobCancelled.Swap(false) {
		logger.Info("utterance_discarded_after_cancel", "session_id", s.ID)
		return
	}

	if frame.Duration() < s.cfg.Recorder.MinUtteranceDuration {
		send(s, protocol.TypeFinal, protocol.FinalPayload{Text: "", Duration: frame.Duration()})
		return
	}

	floats := frame.ToFloat32(s.cfg.Audio.NormalizeFactor)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("utterance_transcription_panicked", "session_id", s.ID, "recover", r)
				send(s, protocol.TypeError, protocol.ErrorPayload{Message: "internal transcription error"})
			}
		}()

		result, err := s.transcribe(floats, sampleRate)
		if err != nil {
			logger.Error("utterance_transcription_failed", "session_id", s.ID, "error", err)
			send(s, protocol.TypeError, protocol.ErrorPayload{Message: err.Error()})
			return
		}
		if lang := s.Language(); lang != "" {
			result.Language = lang
			result.LanguageProbability = 1.0
		}
		send(s, protocol.TypeFinal, protocol.FinalPayload{
			Text:                result.Text,
			Language:            result.Language,
			LanguageProbability: result.LanguageProbability,
			Duration:            frame.Duration(),
			Words:               toProtocolWords(result.Words),
		})
	}()
}

func toProtocolWords(words []engine.Word) []protocol.Word {
	if len(words) == 0 {
		return nil
	}
	out := make([]protocol.Word, len(words))
	for i, w := range words {
		out[i] = protocol.Word{Word: w.Word, Start: w.Start, End: w.End, Probability: w.Probability}
	}
	return out
}

func (s *Session) transcribe(floats []float32, sampleRate int) (engine.TranscriptionResult, error) {
	if s.realtime != nil {
		// FeedAudio has been streaming every Recording-state chunk into the
		// realtime engine for previews; re-feeding the finalized buffer here
		// would duplicate all of that audio in the decode. Finalize the
		// already-fed stream instead, then reset it for the next utterance.
		result, err := s.realtime.Finalize()
		s.realtime.Reset()
		return result, err
	}

	fe, err := s.mm.FileEngine()
	if err != nil {
		return engine.TranscriptionResult{}, err
	}
	ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.Response.Timeout)*time.Second)
	defer cancel()
	return fe.Transcribe(ctx, floats, sampleRate)
}

// FeedAudio resamples incoming PCM to the working sample rate and forwards
// it to the Recorder (and, while a realtime engine backs this session, to
// its streaming decoder for preview text).
func (s *Session) FeedAudio(data []byte, sourceSampleRate int) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return
	}
	atomic.StoreInt64(&s.LastSeen, time.Now().UnixNano())

	frame := audio.FrameFromPCMBytes(data, sourceSampleRate)
	working := s.cfg.Audio.SampleRate
	if sourceSampleRate != working {
		frame = audio.Resample(frame, working)
	}

	s.rec.FeedAudio(frame, s.cfg.Audio.NormalizeFactor)

	if s.realtime != nil && s.Capabilities.SupportsPreview && s.rec.CurrentState() == recorder.Recording {
		_ = s.realtime.AcceptChunk(frame.ToFloat32(s.cfg.Audio.NormalizeFactor))
		s.maybeSendPreview()
	}
}

// maybeSendPreview emits an in-progress transcript, deduplicated against the
// previous preview and throttled to one per preview_min_interval_ms. Preview
// is best-effort: a suppressed update simply waits for the next audio chunk.
func (s *Session) maybeSendPreview() {
	text, ok := s.realtime.Partial()
	if !ok || text == "" {
		return
	}
	minInterval := time.Duration(s.cfg.Recorder.PreviewMinIntervalMS) * time.Millisecond
	now := time.Now()

	s.mu.Lock()
	if text == s.lastPreview || now.Sub(s.lastPreviewAt) < minInterval {
		s.mu.Unlock()
		return
	}
	s.lastPreview = text
	s.lastPreviewAt = now
	s.mu.Unlock()
	send(s, protocol.TypePreview, protocol.PreviewPayload{Text: text})
}

// Authenticated reports whether this session has completed the auth
// handshake.
func (s *Session) Authenticated() bool {
	return atomic.LoadInt32(&s.authenticated) == 1
}

// MarkAuthenticated binds the identity resolved by Authenticate to this
// session and flips it to authenticated. It does not arm the Recorder: a
// client, whether Standalone or Web, must send an explicit start{} control
// message to begin a recording cycle.
func (s *Session) MarkAuthenticated(clientName string, isAdmin bool) {
	s.ClientName = clientName
	s.IsAdmin = isAdmin
	atomic.StoreInt32(&s.authenticated, 1)
}

// StartRecording handles an explicit start{} control message. It attempts to
// admit this session as the process's sole active job; on success it arms
// the Recorder (VAD-driven if useVAD, immediate if not) and returns true. On
// failure - another session already holds the job - it returns false and
// the identity of the session currently holding it.
func (s *Session) StartRecording(useVAD bool) (ok bool, busyUser string) {
	if s.jt != nil {
		user := s.ClientName
		if user == "" {
			user = s.RemoteAddr
		}
		admitted, jobID, activeUser := s.jt.TryStart(user)
		if !admitted {
			return false, activeUser
		}
		s.mu.Lock()
		s.jobID = jobID
		s.mu.Unlock()
		s.jobCancelled.Store(false)
	}
	if useVAD {
		s.rec.Listen()
	} else {
		s.rec.Start()
	}
	return true, ""
}

// StopRecording handles an explicit stop{} control message: it forces the
// Recorder to finalize (or, if still only Listening, to disarm), releasing
// the session's held job if the Recorder actually returned to Inactive. A
// stop arriving before MinUtteranceDuration has elapsed still finalizes;
// the too-short utterance is answered with an empty final{} and no engine
// call.
func (s *Session) StopRecording() {
	s.rec.Stop()
	if s.rec.CurrentState() == recorder.Inactive {
		s.releaseJob()
	}
}

// releaseJob ends this session's held job, if any, and notifies the client.
// Idempotent: a second call after the job is already released is a no-op.
func (s *Session) releaseJob() {
	s.mu.Lock()
	jobID := s.jobID
	s.jobID = ""
	s.mu.Unlock()

	if jobID == "" {
		return
	}
	if s.jt != nil {
		if s.jt.IsCancelled() {
			s.jobCancelled.Store(true)
		}
		s.jt.End(jobID)
	}
	send(s, protocol.TypeSessionStopped, nil)
}

// sendLoop drains SendQueue to the WebSocket connection, grounded in the
// teacher's per-session send goroutine.
func (s *Session) sendLoop() {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session_send_loop_panicked", "session_id", s.ID, "recover", r)
		}
	}()

	for {
		select {
		case msg := <-s.SendQueue:
			if atomic.LoadInt32(&s.closed) == 1 {
				return
			}
			if err := s.Conn.WriteJSON(msg); err != nil {
				atomic.AddInt32(&s.sendErrCount, 1)
				logger.Error("failed_to_send_message", "session_id", s.ID, "error", err)
				if atomic.LoadInt32(&s.sendErrCount) > int32(s.cfg.Session.MaxSendErrors) {
					logger.Error("too_many_send_errors", "session_id", s.ID, "action", "closing_session")
					atomic.StoreInt32(&s.closed, 1)
					return
				}
			} else {
				atomic.StoreInt32(&s.sendErrCount, 0)
			}
		case <-s.sendDone:
			return
		}
	}
}

// Close tears down the session's resources exactly once.
func (s *Session) Close() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.releaseJob()
	s.cancel()
	close(s.sendDone)
	for len(s.SendQueue) > 0 {
		<-s.SendQueue
	}

	s.rec.Shutdown()
	if s.releaseFn != nil {
		s.releaseFn()
	}
	if s.Conn != nil {
		s.Conn.Close()
	}
}

var _ recorder.Owner = (*Session)(nil)
