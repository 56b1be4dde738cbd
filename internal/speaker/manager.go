// Package speaker implements voice-based speaker registration and
// identification. It is backed by the same diarization engine as the
// longform recording pipeline rather than a dedicated speaker-embedding
// model, since that is the only speaker-aware capability sherpa-onnx-go
// exposes in this deployment.
package speaker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"streamspeech/internal/engine"
	"streamspeech/internal/modelmanager"
)

// fingerprint is a small, low-dimensional summary of a voice sample derived
// from its diarized segment structure: total speech duration, segment
// count, and mean segment length. It is not a learned embedding, only
// enough signal to rank registered speakers by similarity.
type fingerprint struct {
	TotalDuration float64
	SegmentCount  int
	MeanSegment   float64
}

func fingerprintFromSegments(segments []engine.SpeakerSegment) fingerprint {
	if len(segments) == 0 {
		return fingerprint{}
	}
	var total float64
	for _, s := range segments {
		total += s.End - s.Start
	}
	return fingerprint{
		TotalDuration: total,
		SegmentCount:  len(segments),
		MeanSegment:   total / float64(len(segments)),
	}
}

// distance is a simple Euclidean distance over the fingerprint's raw
// features; no per-feature scaling is applied.
func (f fingerprint) distance(other fingerprint) float64 {
	dDur := f.TotalDuration - other.TotalDuration
	dCount := float64(f.SegmentCount - other.SegmentCount)
	dMean := f.MeanSegment - other.MeanSegment
	return math.Sqrt(dDur*dDur + dCount*dCount + dMean*dMean)
}

// Entry is one registered speaker.
type Entry struct {
	SpeakerID    string    `json:"speaker_id"`
	SpeakerName  string    `json:"speaker_name"`
	RegisteredAt time.Time `json:"registered_at"`
	fp           fingerprint
}

// Manager registers and identifies speakers by voice fingerprint.
type Manager struct {
	mm *modelmanager.Manager

	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewManager builds a speaker Manager backed by mm's diarization engine.
func NewManager(mm *modelmanager.Manager) *Manager {
	return &Manager{
		mm:      mm,
		entries: make(map[string]*Entry),
	}
}

func (m *Manager) fingerprintOf(samples []float32, sampleRate int) (fingerprint, error) {
	diarizer, err := m.mm.DiarizationEngine()
	if err != nil {
		return fingerprint{}, fmt.Errorf("speaker: diarization unavailable: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	segments, err := diarizer.Diarize(ctx, samples, sampleRate)
	if err != nil {
		return fingerprint{}, fmt.Errorf("speaker: diarizing sample: %w", err)
	}
	return fingerprintFromSegments(segments), nil
}

// RegisterSpeaker enrolls a new speaker under speakerID.
func (m *Manager) RegisterSpeaker(speakerID, speakerName string, samples []float32, sampleRate int) error {
	fp, err := m.fingerprintOf(samples, sampleRate)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[speakerID] = &Entry{
		SpeakerID:    speakerID,
		SpeakerName:  speakerName,
		RegisteredAt: time.Now(),
		fp:           fp,
	}
	return nil
}

// IdentifyResult is the nearest registered speaker for a sample, or no
// match if the registry is empty.
type IdentifyResult struct {
	SpeakerID   string  `json:"speaker_id,omitempty"`
	SpeakerName string  `json:"speaker_name,omitempty"`
	Distance    float64 `json:"distance"`
	Matched     bool    `json:"matched"`
}

// IdentifySpeaker finds the closest registered speaker to the given sample.
func (m *Manager) IdentifySpeaker(samples []float32, sampleRate int) (IdentifyResult, error) {
	fp, err := m.fingerprintOf(samples, sampleRate)
	if err != nil {
		return IdentifyResult{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *Entry
	bestDist := math.MaxFloat64
	for _, e := range m.entries {
		d := fp.distance(e.fp)
		if d < bestDist {
			bestDist = d
			best = e
		}
	}

	if best == nil {
		return IdentifyResult{Matched: false}, nil
	}
	return IdentifyResult{
		SpeakerID:   best.SpeakerID,
		SpeakerName: best.SpeakerName,
		Distance:    bestDist,
		Matched:     true,
	}, nil
}

// VerifyResult reports whether a sample matches a specific speaker within
// threshold.
type VerifyResult struct {
	SpeakerID string  `json:"speaker_id"`
	Distance  float64 `json:"distance"`
	Verified  bool    `json:"verified"`
}

const verifyThreshold = 2.0

// VerifySpeaker checks whether the given sample plausibly belongs to
// speakerID.
func (m *Manager) VerifySpeaker(speakerID string, samples []float32, sampleRate int) (VerifyResult, error) {
	fp, err := m.fingerprintOf(samples, sampleRate)
	if err != nil {
		return VerifyResult{}, err
	}

	m.mu.RLock()
	entry, ok := m.entries[speakerID]
	m.mu.RUnlock()
	if !ok {
		return VerifyResult{}, fmt.Errorf("speaker %q not found", speakerID)
	}

	d := fp.distance(entry.fp)
	return VerifyResult{
		SpeakerID: speakerID,
		Distance:  d,
		Verified:  d <= verifyThreshold,
	}, nil
}

// GetAllSpeakers lists every registered speaker.
func (m *Manager) GetAllSpeakers() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}

// DeleteSpeaker removes a registered speaker.
func (m *Manager) DeleteSpeaker(speakerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[speakerID]; !ok {
		return fmt.Errorf("speaker %q not found", speakerID)
	}
	delete(m.entries, speakerID)
	return nil
}

// GetDatabaseStats returns a summary of the in-memory speaker registry.
func (m *Manager) GetDatabaseStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"registered_speakers": len(m.entries),
	}
}
