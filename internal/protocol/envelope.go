// Package protocol defines the WebSocket wire format shared by
// internal/session and internal/wsgateway: a tagged envelope decoded once at
// the transport boundary and dispatched on its Type field, replacing ad hoc
// map[string]interface{} payloads.
package protocol

import (
	"encoding/json"

	"streamspeech/internal/clientdetect"
)

// Envelope is the sum-type wrapper for every client<->server message.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp float64         `json:"timestamp,omitempty"`
}

// Client -> server message types.
const (
	TypeAuth            = "auth"
	TypeStart           = "start"
	TypeStop            = "stop"
	TypePing            = "ping"
	TypeGetCapabilities = "get_capabilities"
)

// Server -> client message types.
const (
	TypeAuthOK         = "auth_ok"
	TypeAuthFail       = "auth_fail"
	TypeSessionStarted = "session_started"
	TypeSessionStopped = "session_stopped"
	TypeSessionBusy    = "session_busy"
	TypeVADStart       = "vad_start"
	TypeVADStop        = "vad_stop"
	TypeRecordingStart = "vad_recording_start"
	TypeRecordingStop  = "vad_recording_stop"
	TypePreview        = "preview"
	TypeFinal          = "final"
	TypePong           = "pong"
	TypeCapabilities   = "capabilities"
	TypeError          = "error"
)

// AuthPayload carries the bearer token presented during the auth handshake.
type AuthPayload struct {
	Token string `json:"token"`
}

// StartPayload carries the optional parameters of an explicit `start`
// control message.
type StartPayload struct {
	Language string `json:"language,omitempty"`
	UseVAD   *bool  `json:"use_vad,omitempty"`
}

// UseVADOrDefault reports the requested VAD mode, defaulting to true (the
// common case: client relies on server-side VAD to delimit utterances).
func (p StartPayload) UseVADOrDefault() bool {
	if p.UseVAD == nil {
		return true
	}
	return *p.UseVAD
}

// AuthOKPayload confirms a successful auth handshake and echoes the derived
// capability set so the client doesn't need to guess server behavior.
type AuthOKPayload struct {
	ClientName   string                    `json:"client_name"`
	ClientType   clientdetect.ClientType   `json:"client_type"`
	Capabilities clientdetect.Capabilities `json:"capabilities"`
}

// AuthFailPayload explains why authentication was rejected.
type AuthFailPayload struct {
	Message string `json:"message"`
}

// SessionStartedPayload confirms a session is ready to accept audio.
type SessionStartedPayload struct {
	VADEnabled     bool `json:"vad_enabled"`
	PreviewEnabled bool `json:"preview_enabled"`
}

// SessionBusyPayload reports which user currently holds the single
// transcription job slot.
type SessionBusyPayload struct {
	ActiveUser string `json:"active_user"`
}

// CapabilitiesPayload answers a get_capabilities request.
type CapabilitiesPayload struct {
	ClientType   clientdetect.ClientType   `json:"client_type"`
	Capabilities clientdetect.Capabilities `json:"capabilities"`
}

// PreviewPayload carries an in-progress, not-yet-final transcript.
type PreviewPayload struct {
	Text string `json:"text"`
}

// Word is one timestamped, flattened recognition result token.
type Word struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// FinalPayload carries a completed utterance's transcription.
type FinalPayload struct {
	Text                string  `json:"text"`
	Language            string  `json:"language,omitempty"`
	LanguageProbability float64 `json:"language_probability,omitempty"`
	Duration            float64 `json:"duration"`
	Words               []Word  `json:"words,omitempty"`
}

// ErrorPayload carries a human-readable failure description.
type ErrorPayload struct {
	Message string `json:"message"`
}

// AudioMeta is the JSON metadata preamble of a binary audio frame:
// [uint32 LE length][JSON metadata][PCM bytes].
type AudioMeta struct {
	SampleRate int `json:"sample_rate"`
}
