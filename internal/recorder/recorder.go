// Package recorder implements the per-session audio state machine:
// Inactive -> Listening -> Recording -> Trimming -> Inactive, with
// Transcribing as a brief handoff state while an utterance is consumed.
// All durations are tracked in samples, not wall-clock time, so behavior is
// deterministic and independent of scheduler jitter.
package recorder

import (
	"sync"

	"streamspeech/config"
	"streamspeech/internal/audio"
	"streamspeech/internal/logger"
)

// frameQueueSize bounds the worker's inbound frame channel. At 512-sample
// frames and 16 kHz this is about two seconds of backlog before frames are
// dropped rather than blocking the connection's read loop.
const frameQueueSize = 64

// Owner receives state-machine events. Implementations must not block for
// long inside these callbacks - they run on the recorder's worker goroutine.
type Owner interface {
	OnVADStart()
	OnVADStop()
	OnRecordingStart()
	OnRecordingStop()
	OnUtterance(samples []int16, sampleRate int)
}

// VoiceDetector is the subset of *vad.Detector the recorder depends on,
// extracted so the state machine can be tested without the native neural
// model.
type VoiceDetector interface {
	IsVoice(samples []int16, samplesFloat []float32) bool
	IsStillVoice(samples []int16, samplesFloat []float32) bool
	Reset()
	Close()
}

type frameChunk struct {
	samples   []int16
	normalize float32
}

// Recorder drives one session's VAD state machine over a feed of incoming
// audio frames. FeedAudio enqueues VAD-sized frames onto a channel consumed
// by a dedicated worker goroutine, so the connection read loop is never
// blocked by detector or engine work.
type Recorder struct {
	mu    sync.Mutex
	cfg   config.RecorderConfig
	det   VoiceDetector
	owner Owner

	sampleRate int
	frameSize  int

	state   State
	preRoll *PreRollRing

	utterance []int16

	// vadAutoStop is armed by Listen (use_vad mode): post-speech silence
	// finalizes the utterance on its own. A forced Start leaves it false,
	// so only an explicit Stop (or renewed speech after trimming) ends the
	// recording.
	vadAutoStop bool

	// clock is a sample-timed monotonic cursor, incremented once per
	// processed frame. Used to measure elapsed-since-start and
	// elapsed-since-last-stop without touching the wall clock.
	clock                 int
	recordingStartClock   int
	lastRecordingEndClock int // -1 until the first recording ends

	silenceSamples int
	minUtterance   int // samples
	postSpeechSil  int // samples
	maxContSilence int // samples
	minGap         int // samples

	leftover []int16 // partial frame carried between FeedAudio calls

	frames  chan frameChunk
	pending sync.WaitGroup
	done    chan struct{}

	shutdown bool
}

// New builds a Recorder bound to one session's detector and owner, and
// starts its worker goroutine.
func New(cfg config.RecorderConfig, sampleRate int, det VoiceDetector, owner Owner) *Recorder {
	preRollSamples := int(cfg.PreRollDuration * float64(sampleRate))

	r := &Recorder{
		cfg:                   cfg,
		det:                   det,
		owner:                 owner,
		sampleRate:            sampleRate,
		frameSize:             cfg.FrameSize,
		state:                 Inactive,
		preRoll:               NewPreRollRing(preRollSamples),
		minUtterance:          int(cfg.MinUtteranceDuration * float64(sampleRate)),
		postSpeechSil:         int(cfg.PostSpeechSilence * float64(sampleRate)),
		maxContSilence:        int(cfg.MaxContinuousSilence * float64(sampleRate)),
		minGap:                int(cfg.MinGapBetweenRecordings * float64(sampleRate)),
		lastRecordingEndClock: -1,
		frames:                make(chan frameChunk, frameQueueSize),
		done:                  make(chan struct{}),
	}
	go r.worker()
	return r
}

// worker consumes VAD-sized frames until Shutdown. A panic in detector or
// owner callbacks kills only this session's pipeline, never the process.
func (r *Recorder) worker() {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("recorder_worker_panicked", "recover", rec)
		}
	}()

	for {
		select {
		case chunk := <-r.frames:
			func() {
				defer r.pending.Done()
				r.processFrame(chunk.samples, chunk.normalize)
			}()
		case <-r.done:
			return
		}
	}
}

// Listen transitions the recorder from Inactive into Listening, arming both
// VAD-driven auto-start and silence-driven auto-stop.
func (r *Recorder) Listen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Inactive && !r.shutdown {
		r.state = Listening
		r.vadAutoStop = true
	}
}

// Start forces an immediate transition into Recording, bypassing VAD
// arming (used for explicit start{use_vad:false}). A call arriving within
// MinGapBetweenRecordings of the previous recording's end is a no-op, to
// avoid a stop-then-immediate-start manufacturing a spurious second
// utterance out of the same speech event.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Recording || r.state == Trimming || r.shutdown {
		return
	}
	if r.lastRecordingEndClock >= 0 && r.clock-r.lastRecordingEndClock < r.minGap {
		logger.Debug("recorder_start_ignored_min_gap")
		return
	}
	r.vadAutoStop = false
	r.beginRecording()
}

// Stop forces the current recording to end, as if post-speech silence had
// just been observed. The accumulated buffer is always handed to the owner,
// even when shorter than MinUtteranceDuration - the owner discards a
// too-short utterance with an empty result rather than invoking an engine.
// A Stop while merely Listening disarms without producing anything.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case Listening:
		r.state = Inactive
	case Recording, Trimming:
		r.finalizeUtterance()
	}
}

// FeedAudio accepts a chunk of resampled mono 16kHz audio, splits it into
// frame_size chunks, and enqueues them for the worker. Never blocks; when
// the worker has fallen more than frameQueueSize frames behind, excess
// frames are dropped with a debug log rather than stalling the caller.
func (r *Recorder) FeedAudio(frame audio.Frame, normalizeFactor float32) {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	samples := append(r.leftover, frame.Samples...)
	r.leftover = nil

	var full [][]int16
	i := 0
	for ; i+r.frameSize <= len(samples); i += r.frameSize {
		full = append(full, samples[i:i+r.frameSize])
	}
	if i < len(samples) {
		r.leftover = append([]int16(nil), samples[i:]...)
	}
	r.mu.Unlock()

	for _, f := range full {
		r.pending.Add(1)
		select {
		case r.frames <- frameChunk{samples: f, normalize: normalizeFactor}:
		default:
			r.pending.Done()
			logger.Debug("recorder_frame_dropped_backlog")
		}
	}
}

func toFloat32(samples []int16, normalizeFactor float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / normalizeFactor
	}
	return out
}

func (r *Recorder) processFrame(frame []int16, normalizeFactor float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shutdown {
		return
	}

	// The sample clock advances in every state, including Inactive, so
	// MinGapBetweenRecordings keeps elapsing while the session is between
	// recordings.
	r.clock += len(frame)

	if r.state == Inactive || r.state == Transcribing {
		return
	}

	floatFrame := toFloat32(frame, normalizeFactor)

	switch r.state {
	case Listening:
		r.preRoll.Write(frame)
		if r.det.IsVoice(frame, floatFrame) {
			r.beginRecording()
		}

	case Recording:
		r.utterance = append(r.utterance, frame...)
		if r.det.IsStillVoice(frame, floatFrame) {
			r.silenceSamples = 0
			return
		}
		r.silenceSamples += len(frame)
		if r.vadAutoStop {
			if r.silenceSamples >= r.postSpeechSil {
				r.finalizeUtterance()
			}
			return
		}
		if r.silenceSamples >= r.maxContSilence {
			// The silence budget is spent: trim the buffer's trailing
			// silence back to PostSpeechSilence and stop appending until
			// speech resumes, so a long mid-recording pause never reaches
			// the engine.
			r.trimTrailingSilence()
			r.state = Trimming
		}

	case Trimming:
		if r.det.IsStillVoice(frame, floatFrame) {
			r.utterance = append(r.utterance, frame...)
			r.silenceSamples = 0
			r.state = Recording
			return
		}
		// Frames are still fed to the detector so the transition back to
		// Recording stays crisp, but nothing is appended and no silence
		// duration finalizes the utterance on its own - only Stop() or
		// renewed speech ends a Trimming recording.
		r.silenceSamples += len(frame)
	}
}

// trimTrailingSilence truncates the utterance so its trailing silence run is
// at most PostSpeechSilence long.
func (r *Recorder) trimTrailingSilence() {
	excess := r.silenceSamples - r.postSpeechSil
	if excess > 0 && excess <= len(r.utterance) {
		r.utterance = r.utterance[:len(r.utterance)-excess]
		r.silenceSamples = r.postSpeechSil
	}
}

func (r *Recorder) beginRecording() {
	r.state = Recording
	r.owner.OnVADStart()
	r.owner.OnRecordingStart()
	r.utterance = r.preRoll.Drain()
	r.silenceSamples = 0
	r.recordingStartClock = r.clock
}

// finalizeUtterance ends the current recording: trailing silence is trimmed
// to PostSpeechSilence, the buffer is handed to the owner, and the recorder
// returns to Inactive. A session must re-arm via Listen or Start to record
// another utterance.
func (r *Recorder) finalizeUtterance() {
	r.state = Transcribing
	r.trimTrailingSilence()
	r.owner.OnVADStop()
	r.owner.OnRecordingStop()

	utterance := r.utterance
	r.utterance = nil
	r.silenceSamples = 0
	r.lastRecordingEndClock = r.clock
	r.det.Reset()

	r.owner.OnUtterance(utterance, r.sampleRate)

	r.state = Inactive
}

// Shutdown stops the worker and releases the recorder's detector resources.
// Idempotent; safe to call more than once.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.shutdown {
		return
	}
	r.shutdown = true
	r.state = Inactive
	close(r.done)
	r.det.Close()
}

// CurrentState returns the recorder's state, primarily for status/debug
// surfaces.
func (r *Recorder) CurrentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// waitIdle blocks until every frame enqueued so far has been processed.
// Used by tests to make the asynchronous worker deterministic.
func (r *Recorder) waitIdle() {
	r.pending.Wait()
}
