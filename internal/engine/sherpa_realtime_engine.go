package engine

import (
	"fmt"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"streamspeech/config"
)

// OnlineModel owns the one expensive, GPU-resident piece of the streaming
// path: a loaded sherpa OnlineRecognizer. Sherpa's streams (the cheap,
// per-session decode state) are created against this shared recognizer by
// NewSession, so every session pays only for its own OnlineStream rather
// than for a second copy of the model - the same model-sharing behavior
// ModelManager already gives the file engine's singleton OfflineRecognizer.
type OnlineModel struct {
	mu         sync.Mutex
	recognizer *sherpa.OnlineRecognizer
}

// NewOnlineModel loads the live_transcriber model once.
func NewOnlineModel(cfg config.LiveTranscriberConfig) (*OnlineModel, error) {
	c := sherpa.OnlineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: config.DefaultSampleRate,
			FeatureDim: config.DefaultFeatureDim,
		},
		ModelConfig: sherpa.OnlineModelConfig{
			Transducer: sherpa.OnlineTransducerModelConfig{
				Encoder: cfg.Model,
			},
			Tokens:     cfg.TokensPath,
			NumThreads: cfg.NumThreads,
			Provider:   cfg.Provider,
		},
		EnableEndpoint: 1,
	}

	recognizer := sherpa.NewOnlineRecognizer(&c)
	if recognizer == nil {
		return nil, fmt.Errorf("engine: failed to create online recognizer (model=%s)", cfg.Model)
	}
	return &OnlineModel{recognizer: recognizer}, nil
}

// NewSession creates a fresh per-session RealtimeEngine bound to this
// model's shared recognizer. Closing the returned engine releases only its
// OnlineStream, never the recognizer.
func (m *OnlineModel) NewSession() (RealtimeEngine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := sherpa.NewOnlineStream(m.recognizer)
	if stream == nil {
		return nil, fmt.Errorf("engine: failed to create online stream")
	}
	return &sherpaRealtimeEngine{recognizer: m.recognizer, stream: stream}, nil
}

// Close releases the shared recognizer. Must only be called once every
// session-owned stream has already been closed.
func (m *OnlineModel) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recognizer != nil {
		sherpa.DeleteOnlineRecognizer(m.recognizer)
		m.recognizer = nil
	}
}

// sherpaRealtimeEngine wraps one session's OnlineStream against a shared
// OnlineRecognizer for genuine incremental decoding. This is new wiring
// over the teacher's dependency: the teacher only ever builds an
// OfflineRecognizer and decodes whole VAD-delimited segments in one shot.
// sherpa-onnx-go also exports the streaming API, which the live
// transcriber needs for partial results before an utterance finishes.
type sherpaRealtimeEngine struct {
	mu         sync.Mutex
	recognizer *sherpa.OnlineRecognizer
	stream     *sherpa.OnlineStream
	lastText   string
}

func (e *sherpaRealtimeEngine) AcceptChunk(samples []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stream.AcceptWaveform(config.DefaultSampleRate, samples)
	for e.recognizer.IsReady(e.stream) {
		e.recognizer.Decode(e.stream)
	}
	result := e.recognizer.GetResult(e.stream)
	if result != nil {
		e.lastText = result.Text
	}
	return nil
}

func (e *sherpaRealtimeEngine) Partial() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastText, e.lastText != ""
}

func (e *sherpaRealtimeEngine) Finalize() (TranscriptionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stream.InputFinished()
	for e.recognizer.IsReady(e.stream) {
		e.recognizer.Decode(e.stream)
	}
	result := e.recognizer.GetResult(e.stream)
	text := e.lastText
	if result != nil {
		text = result.Text
	}

	return TranscriptionResult{Text: text}, nil
}

func (e *sherpaRealtimeEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recognizer.Reset(e.stream)
	e.lastText = ""
}

// Close releases only this session's stream. The shared recognizer is
// owned by OnlineModel and outlives any individual session.
func (e *sherpaRealtimeEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream != nil {
		sherpa.DeleteOnlineStream(e.stream)
		e.stream = nil
	}
}
