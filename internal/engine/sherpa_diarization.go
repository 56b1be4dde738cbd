package engine

import (
	"context"
	"fmt"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"streamspeech/config"
)

// sherpaDiarizationEngine wraps sherpa's OfflineSpeakerDiarization, the same
// dependency as the file/realtime engines exercised for a different
// operation: the teacher never wires this API, only the recognizer.
type sherpaDiarizationEngine struct {
	diarization *sherpa.OfflineSpeakerDiarization
}

// NewSherpaDiarizationEngine builds a diarization engine from config.
func NewSherpaDiarizationEngine(cfg config.DiarizationConfig) (DiarizationEngine, error) {
	c := sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: cfg.Model,
			},
			NumThreads: cfg.NumThreads,
			Provider:   cfg.Provider,
		},
		Clustering: sherpa.FastClusteringConfig{
			Threshold: cfg.Threshold,
		},
	}

	d := sherpa.NewOfflineSpeakerDiarization(&c)
	if d == nil {
		return nil, fmt.Errorf("engine: failed to create speaker diarization (model=%s)", cfg.Model)
	}

	return &sherpaDiarizationEngine{diarization: d}, nil
}

func (e *sherpaDiarizationEngine) Diarize(ctx context.Context, samples []float32, sampleRate int) ([]SpeakerSegment, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result := e.diarization.Process(samples)
	if result == nil {
		return nil, fmt.Errorf("engine: diarization produced no result")
	}

	segments := make([]SpeakerSegment, 0, len(result))
	for _, seg := range result {
		segments = append(segments, SpeakerSegment{
			Speaker: seg.Speaker,
			Start:   float64(seg.Start),
			End:     float64(seg.End),
		})
	}
	return segments, nil
}

func (e *sherpaDiarizationEngine) Close() {
	if e.diarization != nil {
		sherpa.DeleteOfflineSpeakerDiarization(e.diarization)
		e.diarization = nil
	}
}
