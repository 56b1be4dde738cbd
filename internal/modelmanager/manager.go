// Package modelmanager owns the lifecycle of the three sherpa-onnx engines
// (file, realtime, diarization): lazy construction, sharing a single engine
// instance between the file and live paths when their configured models are
// equivalent, and orderly teardown.
package modelmanager

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"streamspeech/config"
	"streamspeech/internal/engine"
	"streamspeech/internal/logger"
)

// TranscriptionStatus describes the file-engine slot.
type TranscriptionStatus struct {
	Loaded bool   `json:"loaded"`
	Model  string `json:"model,omitempty"`
}

// DiarizationStatus describes the diarization slot. Available reflects
// whether the engine could be loaded at all (enabled in config and the
// HF_TOKEN environment variable present); Reason explains unavailability.
type DiarizationStatus struct {
	Loaded    bool   `json:"loaded"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// RealtimeStatus describes the per-session realtime engines.
type RealtimeStatus struct {
	ActiveSessions int      `json:"active_sessions"`
	IDs            []string `json:"ids,omitempty"`
	SharedWithFile bool     `json:"shared_with_file"`
}

// Status summarizes which engines are currently loaded, for /health and
// /stats.
type Status struct {
	GPUAvailable  bool                `json:"gpu_available"`
	Transcription TranscriptionStatus `json:"transcription"`
	Diarization   DiarizationStatus   `json:"diarization"`
	Realtime      RealtimeStatus      `json:"realtime"`
}

// Manager lazily constructs and shares the recognition engines.
type Manager struct {
	cfg *config.Config
	mu  sync.Mutex

	fileEngine engine.FileEngine

	// onlineModel is the shared, singleton sherpa OnlineRecognizer backing
	// every per-session realtime engine when live_transcriber's model is
	// NOT equivalent to main_transcriber's; nil until first requested.
	onlineModel *engine.OnlineModel

	// realtime holds one engine per live session, keyed by sessionID -
	// never a single process-wide engine, so concurrent sessions never
	// share mutable decode state.
	realtime map[string]engine.RealtimeEngine

	diarization engine.DiarizationEngine

	// hfTokenPresent is captured once at construction: diarization is only
	// available when the HF_TOKEN environment variable is set.
	hfTokenPresent bool

	sharedRealtimeAndFile bool
}

// New returns an idle Manager; nothing is loaded until first use.
func New(cfg *config.Config) *Manager {
	return &Manager{
		cfg:            cfg,
		realtime:       make(map[string]engine.RealtimeEngine),
		hfTokenPresent: os.Getenv("HF_TOKEN") != "",
	}
}

// normalizeModelName strips vendor prefixes so two differently-spelled
// references to the same underlying model are recognized as equivalent.
func normalizeModelName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range []string{"systran/", "faster-whisper-", "openai/whisper-"} {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}

// FileEngine lazily constructs (once) and returns the shared batch
// recognition engine.
func (m *Manager) FileEngine() (engine.FileEngine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileEngineLocked()
}

// fileEngineLocked is FileEngine's lazy-construction body, callable while
// m.mu is already held (GetOrCreateRealtimeEngine needs the file engine
// under the same lock it uses for the realtime map). A failed load leaves
// the slot empty so a later call can retry.
func (m *Manager) fileEngineLocked() (engine.FileEngine, error) {
	if m.fileEngine != nil {
		return m.fileEngine, nil
	}
	fe, err := engine.NewSherpaFileEngine(m.cfg.MainTranscriber)
	if err != nil {
		return nil, fmt.Errorf("modelmanager: loading file engine: %w", err)
	}
	m.fileEngine = fe
	logger.Info("file_engine_loaded", "model", m.cfg.MainTranscriber.Model)
	return fe, nil
}

// LoadTranscriptionModel eagerly loads the file engine, reporting coarse
// progress through progressFn. Used by ops tooling to warm the model before
// the first real request pays the cold-start cost.
func (m *Manager) LoadTranscriptionModel(progressFn func(stage string)) error {
	if progressFn == nil {
		progressFn = func(string) {}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fileEngine != nil {
		progressFn("already_loaded")
		return nil
	}
	progressFn("loading")
	if _, err := m.fileEngineLocked(); err != nil {
		progressFn("failed")
		return err
	}
	progressFn("loaded")
	return nil
}

// GetOrCreateRealtimeEngine returns a per-session realtime engine for
// sessionID. If live_transcriber's model is equivalent to
// main_transcriber's, the session is handed an adapter over the
// already-loaded FileEngine instead of a second model load, so GPU memory
// does not grow with the number of live sessions; otherwise each session
// gets its own lightweight OnlineStream against one shared OnlineRecognizer,
// so the live model itself is still loaded only once.
func (m *Manager) GetOrCreateRealtimeEngine(sessionID string) (engine.RealtimeEngine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.LiveTranscriber.Enabled {
		return nil, fmt.Errorf("modelmanager: live transcription is disabled")
	}

	if re, ok := m.realtime[sessionID]; ok {
		return re, nil
	}

	m.sharedRealtimeAndFile = normalizeModelName(m.cfg.LiveTranscriber.Model) == normalizeModelName(m.cfg.MainTranscriber.Model)

	if m.sharedRealtimeAndFile {
		fe, err := m.fileEngineLocked()
		if err != nil {
			return nil, fmt.Errorf("modelmanager: loading shared file engine for realtime use: %w", err)
		}
		re := engine.NewFileBackedRealtimeEngine(fe, m.cfg.Audio.SampleRate)
		m.realtime[sessionID] = re
		logger.Info("realtime_engine_created", "session_id", sessionID, "shared_with_file_model", true)
		return re, nil
	}

	if m.onlineModel == nil {
		om, err := engine.NewOnlineModel(m.cfg.LiveTranscriber)
		if err != nil {
			return nil, fmt.Errorf("modelmanager: loading realtime model: %w", err)
		}
		m.onlineModel = om
		logger.Info("realtime_model_loaded", "model", m.cfg.LiveTranscriber.Model)
	}

	re, err := m.onlineModel.NewSession()
	if err != nil {
		return nil, fmt.Errorf("modelmanager: creating realtime session: %w", err)
	}
	m.realtime[sessionID] = re
	logger.Info("realtime_engine_created", "session_id", sessionID, "shared_with_file_model", false)
	return re, nil
}

// ReleaseRealtimeEngine releases sessionID's realtime engine. If it was a
// FileEngine adapter, only the adapter's small per-session buffer is
// dropped; the shared FileEngine itself is untouched. Otherwise the
// session's OnlineStream is deleted; the shared OnlineRecognizer survives
// until UnloadAll. Idempotent: releasing an unknown session is a no-op.
func (m *Manager) ReleaseRealtimeEngine(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	re, ok := m.realtime[sessionID]
	if !ok {
		return
	}
	re.Close()
	delete(m.realtime, sessionID)
	logger.Info("realtime_engine_released", "session_id", sessionID)
}

// DiarizationEngine lazily constructs (once) and returns the shared
// diarization engine. It requires both diarization.enabled in config and an
// HF_TOKEN in the environment.
func (m *Manager) DiarizationEngine() (engine.DiarizationEngine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.cfg.Diarization.Enabled {
		return nil, fmt.Errorf("modelmanager: diarization is disabled")
	}
	if !m.hfTokenPresent {
		return nil, fmt.Errorf("modelmanager: diarization requires HF_TOKEN")
	}

	if m.diarization != nil {
		return m.diarization, nil
	}

	de, err := engine.NewSherpaDiarizationEngine(m.cfg.Diarization)
	if err != nil {
		return nil, fmt.Errorf("modelmanager: loading diarization engine: %w", err)
	}
	m.diarization = de
	logger.Info("diarization_engine_loaded", "model", m.cfg.Diarization.Model)
	return de, nil
}

// UnloadDiarization releases the diarization engine's resources.
func (m *Manager) UnloadDiarization() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadDiarizationLocked()
}

func (m *Manager) unloadDiarizationLocked() {
	if m.diarization != nil {
		m.diarization.Close()
		m.diarization = nil
		logger.Info("diarization_engine_unloaded")
	}
}

// UnloadTranscriptionModel tears down the file engine. Used by ops tooling
// through the /api/models/unload endpoint.
func (m *Manager) UnloadTranscriptionModel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadFileEngineLocked()
}

func (m *Manager) unloadFileEngineLocked() {
	if m.fileEngine != nil {
		m.fileEngine.Close()
		m.fileEngine = nil
		logger.Info("file_engine_unloaded")
	}
}

// UnloadAll tears down every loaded engine in a fixed order - realtime
// sessions, then diarization, then the file engine - so downstream callers
// observe a consistent unloaded state.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, re := range m.realtime {
		re.Close()
		delete(m.realtime, id)
	}
	if m.onlineModel != nil {
		m.onlineModel.Close()
		m.onlineModel = nil
	}
	m.unloadDiarizationLocked()
	m.unloadFileEngineLocked()
	logger.Info("model_manager_shutdown_complete")
}

// Status reports which engines are currently loaded.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.realtime))
	for id := range m.realtime {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	diar := DiarizationStatus{Loaded: m.diarization != nil}
	switch {
	case !m.cfg.Diarization.Enabled:
		diar.Reason = "disabled"
	case !m.hfTokenPresent:
		diar.Reason = "token_missing"
	default:
		diar.Available = true
	}

	return Status{
		GPUAvailable: m.cfg.MainTranscriber.Provider == "cuda",
		Transcription: TranscriptionStatus{
			Loaded: m.fileEngine != nil,
			Model:  m.cfg.MainTranscriber.Model,
		},
		Diarization: diar,
		Realtime: RealtimeStatus{
			ActiveSessions: len(ids),
			IDs:            ids,
			SharedWithFile: m.sharedRealtimeAndFile,
		},
	}
}
