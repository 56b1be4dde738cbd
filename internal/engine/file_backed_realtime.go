package engine

import (
	"context"
	"sync"
)

// minRedecodeSamples bounds how often fileBackedRealtimeEngine re-runs a
// batch decode for preview text: redecoding on every chunk would make each
// AcceptChunk call O(buffer length), so a partial is only refreshed once at
// least this many new samples have arrived since the last one.
const minRedecodeSamples = 1600 // 0.1s at 16kHz

// fileBackedRealtimeEngine adapts the shared, singleton FileEngine into a
// per-session RealtimeEngine when main_transcriber.model and
// live_transcriber.model are equivalent (§4.4): rather than loading a
// second model to serve live sessions, every such session gets one of
// these adapters, all driving the same already-loaded batch engine, so GPU
// memory does not grow with the number of live sessions. Each adapter owns
// only its own audio buffer, never shared state, so concurrent sessions
// cannot contaminate one another's transcripts.
type fileBackedRealtimeEngine struct {
	mu         sync.Mutex
	fileEngine FileEngine
	sampleRate int
	buf        []float32
	lastText   string
	decodedAt  int
}

// NewFileBackedRealtimeEngine wraps fe (the shared FileEngine singleton) as
// a per-session streaming adapter.
func NewFileBackedRealtimeEngine(fe FileEngine, sampleRate int) RealtimeEngine {
	return &fileBackedRealtimeEngine{fileEngine: fe, sampleRate: sampleRate}
}

func (e *fileBackedRealtimeEngine) AcceptChunk(samples []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf = append(e.buf, samples...)

	if len(e.buf)-e.decodedAt < minRedecodeSamples {
		return nil
	}
	result, err := e.fileEngine.Transcribe(context.Background(), e.buf, e.sampleRate)
	if err != nil {
		return err
	}
	e.lastText = result.Text
	e.decodedAt = len(e.buf)
	return nil
}

func (e *fileBackedRealtimeEngine) Partial() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastText, e.lastText != ""
}

func (e *fileBackedRealtimeEngine) Finalize() (TranscriptionResult, error) {
	e.mu.Lock()
	buf := e.buf
	e.mu.Unlock()

	if len(buf) == 0 {
		return TranscriptionResult{}, nil
	}
	return e.fileEngine.Transcribe(context.Background(), buf, e.sampleRate)
}

func (e *fileBackedRealtimeEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf = nil
	e.lastText = ""
	e.decodedAt = 0
}

// Close is a no-op: the shared FileEngine outlives any individual session
// and is torn down by ModelManager, not by its adapters.
func (e *fileBackedRealtimeEngine) Close() {}
