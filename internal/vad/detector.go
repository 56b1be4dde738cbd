// Package vad implements the dual-stage voice activity detector: a cheap
// energy check runs on every frame, and a neural (Silero) pass only runs on
// frames whose energy crosses the energy stage's threshold.
package vad

import (
	"fmt"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"streamspeech/config"
)

// Detector wraps a per-session energy stage around its own neural model.
// The neural side (sherpa's VoiceActivityDetector) keeps internal state, so
// each Detector owns its own instance rather than sharing one across
// sessions.
type Detector struct {
	mu     sync.Mutex
	energy *energyStage
	neural *sherpa.VoiceActivityDetector
	mode   string // "energy" or "both"
}

// New builds a Detector from the dual-stage VAD configuration. modelPath
// must point at a Silero VAD onnx model on disk.
func New(cfg config.VADConfig, sampleRate int) (*Detector, error) {
	modelCfg := &sherpa.VadModelConfig{
		SileroVad: sherpa.SileroVadModelConfig{
			Model:              cfg.ModelPath,
			Threshold:          cfg.NeuralSensitivity,
			MinSilenceDuration: 0.3,
			MinSpeechDuration:  0.1,
			MaxSpeechDuration:  20,
			WindowSize:         cfg.WindowSize,
		},
		SampleRate: sampleRate,
		NumThreads: 1,
		Provider:   "cpu",
	}

	neural := sherpa.NewVoiceActivityDetector(modelCfg, cfg.BufferSizeSeconds)
	if neural == nil {
		return nil, fmt.Errorf("vad: failed to create neural detector (model_path=%s)", cfg.ModelPath)
	}

	mode := cfg.StillVoiceMode
	if mode == "" {
		mode = "energy"
	}

	return &Detector{
		energy: newEnergyStage(cfg.EnergySensitivity),
		neural: neural,
		mode:   mode,
	}, nil
}

// IsVoice classifies one frame of int16 PCM as speech or not. The energy
// stage always runs; the neural stage runs on every frame whose energy is
// above the threshold, whether or not hysteresis has already confirmed
// speech.
func (d *Detector) IsVoice(samples []int16, samplesFloat []float32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	above := d.energy.maybeVoice(samples)
	if !above {
		return d.energy.confirm(false)
	}

	d.neural.AcceptWaveform(samplesFloat)
	neuralSpeech := !d.neural.IsEmpty() || d.neuralFlagSet()

	return d.energy.confirm(above && neuralSpeech)
}

// neuralFlagSet drains any completed segments the neural detector collected;
// their mere presence after AcceptWaveform means the model agreed the frame
// window contained speech.
func (d *Detector) neuralFlagSet() bool {
	found := false
	for !d.neural.IsEmpty() {
		seg := d.neural.Front()
		d.neural.Pop()
		if seg != nil && len(seg.Samples) > 0 {
			found = true
		}
	}
	return found
}

// IsStillVoice is the cheaper check used while already inside a recording:
// once speech has started, only the energy stage (or both, per
// still_voice_mode) needs to agree that speech is continuing, rather than
// re-confirming via the neural model every frame.
func (d *Detector) IsStillVoice(samples []int16, samplesFloat []float32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	above := d.energy.maybeVoice(samples)
	if d.mode == "energy" {
		return above
	}
	d.neural.AcceptWaveform(samplesFloat)
	return above && (!d.neural.IsEmpty() || d.neuralFlagSet())
}

// Reset zeroes the energy stage's hysteresis counters and drops any speech
// segments the neural detector has queued. The neural model's own internal
// window state is not reset.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.energy.reset()
	for !d.neural.IsEmpty() {
		d.neural.Pop()
	}
}

// Close releases the neural model's native resources. Calls after the
// first are no-ops.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.neural != nil {
		sherpa.DeleteVoiceActivityDetector(d.neural)
		d.neural = nil
	}
}
