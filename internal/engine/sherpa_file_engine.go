package engine

import (
	"context"
	"fmt"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"streamspeech/config"
)

// sherpaFileEngine wraps a sherpa OfflineRecognizer, grounded on
// bootstrap.createRecognizer's config wiring and session.Manager's
// submitRecognitionTask decode sequence (NewOfflineStream / AcceptWaveform /
// Decode / GetResult).
type sherpaFileEngine struct {
	recognizer *sherpa.OfflineRecognizer
}

// NewSherpaFileEngine builds a batch recognizer for the given model config.
func NewSherpaFileEngine(cfg config.MainTranscriberConfig) (FileEngine, error) {
	c := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: config.DefaultSampleRate,
			FeatureDim: config.DefaultFeatureDim,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			SenseVoice: sherpa.OfflineSenseVoiceModelConfig{
				Model:    cfg.Model,
				UseInverseTextNormalization: boolToInt(cfg.UseITN),
			},
			Tokens:     cfg.TokensPath,
			NumThreads: cfg.NumThreads,
			Debug:      boolToInt(cfg.Debug),
			Provider:   cfg.Provider,
		},
	}

	recognizer := sherpa.NewOfflineRecognizer(&c)
	if recognizer == nil {
		return nil, fmt.Errorf("engine: failed to create offline recognizer (model=%s)", cfg.Model)
	}

	return &sherpaFileEngine{recognizer: recognizer}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (e *sherpaFileEngine) Transcribe(ctx context.Context, samples []float32, sampleRate int) (TranscriptionResult, error) {
	select {
	case <-ctx.Done():
		return TranscriptionResult{}, ctx.Err()
	default:
	}

	stream := sherpa.NewOfflineStream(e.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	e.recognizer.Decode(stream)
	result := stream.GetResult()
	if result == nil {
		return TranscriptionResult{}, fmt.Errorf("engine: recognition produced no result")
	}

	return TranscriptionResult{
		Text:     result.Text,
		Language: result.Lang,
		Duration: float64(len(samples)) / float64(sampleRate),
		Words:    wordsFromTokens(result.Tokens, result.Timestamps),
	}, nil
}

// wordsFromTokens flattens sherpa's parallel token/timestamp arrays into
// Word entries. Sherpa's offline recognizers don't expose a per-token
// probability, so Probability is left at its zero value rather than
// fabricated.
func wordsFromTokens(tokens []string, timestamps []float32) []Word {
	if len(tokens) == 0 {
		return nil
	}
	words := make([]Word, len(tokens))
	for i, tok := range tokens {
		start := 0.0
		if i < len(timestamps) {
			start = float64(timestamps[i])
		}
		end := start
		if i+1 < len(timestamps) {
			end = float64(timestamps[i+1])
		}
		words[i] = Word{Word: tok, Start: start, End: end}
	}
	return words
}

func (e *sherpaFileEngine) Close() {
	if e.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(e.recognizer)
		e.recognizer = nil
	}
}
