// Package clientdetect classifies an incoming connection as a Standalone
// client (a dedicated desktop/CLI app) or a Web client (a browser), and
// derives the capability set each kind gets.
package clientdetect

import "net/http"

// ClientType identifies the kind of client driving a session.
type ClientType string

const (
	Standalone ClientType = "standalone"
	Web        ClientType = "web"
)

// HeaderName is the explicit client-type signal; QueryParam is the fallback
// used by clients that can't set custom headers (e.g. plain WebSocket
// connections from a browser).
const (
	HeaderName = "X-Client-Type"
	QueryParam = "client_type"
)

// Capabilities is the feature set derived from a client's declared type.
type Capabilities struct {
	SupportsVADEvents    bool `json:"supports_vad_events"`
	SupportsPreview      bool `json:"supports_preview"`
	SupportsDiarization  bool `json:"supports_diarization"`
	SupportsBinaryFrames bool `json:"supports_binary_frames"`
}

// Detect classifies r's client type from header, then query param,
// defaulting to Web when neither is present (the more restrictive
// capability set).
func Detect(r *http.Request) ClientType {
	if v := r.Header.Get(HeaderName); v != "" {
		return parse(v)
	}
	if v := r.URL.Query().Get(QueryParam); v != "" {
		return parse(v)
	}
	return Web
}

func parse(v string) ClientType {
	if ClientType(v) == Standalone {
		return Standalone
	}
	return Web
}

// CapabilitiesFor derives the capability set for a client type.
func CapabilitiesFor(t ClientType) Capabilities {
	switch t {
	case Standalone:
		return Capabilities{
			SupportsVADEvents:    true,
			SupportsPreview:      true,
			SupportsDiarization:  true,
			SupportsBinaryFrames: true,
		}
	default:
		return Capabilities{
			SupportsVADEvents:    false,
			SupportsPreview:      true,
			SupportsDiarization:  false,
			SupportsBinaryFrames: true,
		}
	}
}
