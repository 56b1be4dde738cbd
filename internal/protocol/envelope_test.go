package protocol

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeDecodePreservesRawData(t *testing.T) {
	raw := `{"type":"start","data":{"language":"en","use_vad":false},"timestamp":1722550000.25}`

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != TypeStart {
		t.Fatalf("type = %q, want %q", env.Type, TypeStart)
	}

	var payload StartPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if payload.Language != "en" {
		t.Errorf("language = %q, want en", payload.Language)
	}
	if payload.UseVADOrDefault() {
		t.Error("use_vad:false should override the default")
	}
}

func TestUseVADDefaultsToTrue(t *testing.T) {
	var payload StartPayload
	if !payload.UseVADOrDefault() {
		t.Fatal("absent use_vad must default to true")
	}
}

func TestEnvelopeUnknownTypeDecodesWithoutError(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal([]byte(`{"type":"wibble","data":{}}`), &env); err != nil {
		t.Fatalf("unknown type must decode (dispatch rejects it later): %v", err)
	}
	if env.Type != "wibble" {
		t.Fatalf("type = %q", env.Type)
	}
}

func TestEnvelopeOmitsEmptyData(t *testing.T) {
	b, err := json.Marshal(Envelope{Type: TypePong, Timestamp: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if _, present := decoded["data"]; present {
		t.Fatal("empty data should be omitted from the wire form")
	}
}
