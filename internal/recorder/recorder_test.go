package recorder

import (
	"testing"

	"streamspeech/config"
	"streamspeech/internal/audio"
)

// fakeDetector reports voice based on a pre-programmed sequence of verdicts,
// one per call, so tests can script a conversation without a native model.
type fakeDetector struct {
	verdicts []bool
	idx      int
	resets   int
	closes   int
}

func (f *fakeDetector) next() bool {
	if f.idx >= len(f.verdicts) {
		return false
	}
	v := f.verdicts[f.idx]
	f.idx++
	return v
}

func (f *fakeDetector) IsVoice(samples []int16, samplesFloat []float32) bool {
	return f.next()
}
func (f *fakeDetector) IsStillVoice(samples []int16, samplesFloat []float32) bool {
	return f.next()
}
func (f *fakeDetector) Reset() { f.resets++ }
func (f *fakeDetector) Close() { f.closes++ }

type fakeOwner struct {
	vadStarts, vadStops int
	recStarts, recStops int
	utterances          [][]int16
}

func (o *fakeOwner) OnVADStart()       { o.vadStarts++ }
func (o *fakeOwner) OnVADStop()        { o.vadStops++ }
func (o *fakeOwner) OnRecordingStart() { o.recStarts++ }
func (o *fakeOwner) OnRecordingStop()  { o.recStops++ }
func (o *fakeOwner) OnUtterance(samples []int16, sampleRate int) {
	o.utterances = append(o.utterances, samples)
}

// testCfg uses a 1000 Hz sample rate so durations translate to small, exact
// sample counts: PostSpeechSilence = 2 samples, MaxContinuousSilence = 20.
func testCfg() config.RecorderConfig {
	return config.RecorderConfig{
		FrameSize:               4,
		MinUtteranceDuration:    0,
		PreRollDuration:         0,
		PostSpeechSilence:       0.002,
		MaxContinuousSilence:    0.020,
		MinGapBetweenRecordings: 0,
		PreviewMinIntervalMS:    0,
	}
}

func frameOf(n int) audio.Frame {
	return audio.Frame{Samples: make([]int16, n), SampleRate: 1000}
}

func feed(r *Recorder, frames ...audio.Frame) {
	for _, f := range frames {
		r.FeedAudio(f, 32768)
	}
	r.waitIdle()
}

func TestRecorderStaysListeningOnSilence(t *testing.T) {
	det := &fakeDetector{verdicts: []bool{false, false, false}}
	owner := &fakeOwner{}
	r := New(testCfg(), 1000, det, owner)
	defer r.Shutdown()
	r.Listen()

	feed(r, frameOf(12))

	if r.CurrentState() != Listening {
		t.Fatalf("expected Listening, got %v", r.CurrentState())
	}
	if owner.recStarts != 0 {
		t.Fatalf("expected no recording starts, got %d", owner.recStarts)
	}
}

func TestRecorderTransitionsToRecordingOnVoice(t *testing.T) {
	det := &fakeDetector{verdicts: []bool{true}}
	owner := &fakeOwner{}
	r := New(testCfg(), 1000, det, owner)
	defer r.Shutdown()
	r.Listen()

	feed(r, frameOf(4))

	if r.CurrentState() != Recording {
		t.Fatalf("expected Recording, got %v", r.CurrentState())
	}
	if owner.recStarts != 1 || owner.vadStarts != 1 {
		t.Fatalf("expected one recording/vad start, got rec=%d vad=%d", owner.recStarts, owner.vadStarts)
	}
}

// TestRecorderAutoFinalizesAfterPostSpeechSilence is the VAD-armed happy
// path: once speech ends and PostSpeechSilence elapses, the utterance is
// finalized without any explicit Stop().
func TestRecorderAutoFinalizesAfterPostSpeechSilence(t *testing.T) {
	// frame 1: IsVoice -> Recording; frame 2: silence, 4 samples appended,
	// silenceSamples(4) >= postSpeechSil(2) -> finalize.
	det := &fakeDetector{verdicts: []bool{true, false}}
	owner := &fakeOwner{}
	r := New(testCfg(), 1000, det, owner)
	defer r.Shutdown()
	r.Listen()

	feed(r, frameOf(4), frameOf(4))

	if len(owner.utterances) != 1 {
		t.Fatalf("expected exactly one finalized utterance, got %d", len(owner.utterances))
	}
	if r.CurrentState() != Inactive {
		t.Fatalf("expected Inactive after finalize (session must re-arm), got %v", r.CurrentState())
	}
	if owner.recStops != 1 || owner.vadStops != 1 {
		t.Fatalf("expected one recording/vad stop, got rec=%d vad=%d", owner.recStops, owner.vadStops)
	}
	if det.resets != 1 {
		t.Fatalf("expected detector reset on finalize, got %d", det.resets)
	}
	// Trailing silence in the buffer is trimmed to PostSpeechSilence.
	if got := len(owner.utterances[0]); got > 2 {
		t.Fatalf("expected trailing silence trimmed to 2 samples, got %d", got)
	}
}

// TestRecorderMergesUtteranceAcrossLongSilenceGap covers the trailing-silence
// trim: in a forced (non-VAD-stop) recording, a silence gap reaching
// MaxContinuousSilence enters Trimming, the buffered silence is cut back to
// PostSpeechSilence, and renewed speech merges back into the same utterance.
func TestRecorderMergesUtteranceAcrossLongSilenceGap(t *testing.T) {
	// f1: voice (4 speech samples); f2-f6: silence, appended until
	// silenceSamples reaches maxContSilence(20) -> Trimming, buffer trimmed
	// from 24 to 6 samples; f7: silence, not appended; f8: voice, merges
	// back into Recording (+4); Stop() finalizes.
	det := &fakeDetector{verdicts: []bool{true, false, false, false, false, false, false, true}}
	owner := &fakeOwner{}
	r := New(testCfg(), 1000, det, owner)
	defer r.Shutdown()
	r.Start()

	for i := 0; i < 8; i++ {
		feed(r, frameOf(4))
	}
	r.Stop()

	if len(owner.utterances) != 1 {
		t.Fatalf("expected exactly one merged utterance, got %d", len(owner.utterances))
	}
	if owner.recStarts != 1 || owner.recStops != 1 {
		t.Fatalf("expected exactly one recording start/stop pair (merged), got starts=%d stops=%d", owner.recStarts, owner.recStops)
	}
	// 4 speech + 2 bridging silence + 4 speech; the other 18 silence samples
	// must never reach the engine.
	if got := len(owner.utterances[0]); got != 10 {
		t.Fatalf("merged utterance length = %d, want 10", got)
	}
}

// TestRecorderTrimmingNeverAutoFinalizesOnSilenceDuration: a silence run far
// longer than MaxContinuousSilence in a forced recording, with no Stop()
// call, must never finalize the utterance on its own - only renewed voice
// (merge) or an explicit Stop() may end a Trimming recording.
func TestRecorderTrimmingNeverAutoFinalizesOnSilenceDuration(t *testing.T) {
	verdicts := []bool{true}
	for i := 0; i < 200; i++ {
		verdicts = append(verdicts, false)
	}
	det := &fakeDetector{verdicts: verdicts}
	owner := &fakeOwner{}
	r := New(testCfg(), 1000, det, owner)
	defer r.Shutdown()
	r.Start()

	for i := 0; i < 201; i++ {
		feed(r, frameOf(4))
	}

	if len(owner.utterances) != 0 {
		t.Fatalf("expected no finalized utterance before Stop(), got %d", len(owner.utterances))
	}
	if r.CurrentState() != Trimming {
		t.Fatalf("expected recorder to remain in Trimming, got %v", r.CurrentState())
	}

	// Speech resumes well past MaxContinuousSilence: it must still merge
	// into the same utterance rather than starting a fresh one.
	det.verdicts = append(det.verdicts, true)
	feed(r, frameOf(4))
	if r.CurrentState() != Recording {
		t.Fatalf("expected renewed voice to merge back into Recording, got %v", r.CurrentState())
	}

	r.Stop()
	if len(owner.utterances) != 1 {
		t.Fatalf("expected exactly one utterance after Stop(), got %d", len(owner.utterances))
	}
	if owner.recStarts != 1 || owner.recStops != 1 {
		t.Fatalf("expected a single start/stop pair across the merged utterance, got starts=%d stops=%d", owner.recStarts, owner.recStops)
	}
}

// TestRecorderStopFinalizesShortRecording: an explicit Stop before
// MinUtteranceDuration still hands the (short) buffer to the owner - the
// owner is the one that discards it with an empty result, so the client
// always gets its final{} even for a too-short utterance.
func TestRecorderStopFinalizesShortRecording(t *testing.T) {
	det := &fakeDetector{verdicts: []bool{true}}
	owner := &fakeOwner{}
	cfg := testCfg()
	cfg.MinUtteranceDuration = 1.0 // 1000 samples, far beyond what we feed
	r := New(cfg, 1000, det, owner)
	defer r.Shutdown()
	r.Start()

	feed(r, frameOf(4))
	r.Stop()

	if len(owner.utterances) != 1 {
		t.Fatalf("expected the short utterance to be handed to the owner, got %d", len(owner.utterances))
	}
	if owner.recStops != 1 {
		t.Fatalf("expected one recording stop, got %d", owner.recStops)
	}
	if r.CurrentState() != Inactive {
		t.Fatalf("expected Inactive after Stop, got %v", r.CurrentState())
	}
}

// TestRecorderMinGapSuppressesImmediateRestart: a Start within
// MinGapBetweenRecordings of the previous recording's end is ignored, and
// the gap is measured in samples, so it only elapses as audio flows.
func TestRecorderMinGapSuppressesImmediateRestart(t *testing.T) {
	det := &fakeDetector{verdicts: []bool{true, false, false}}
	owner := &fakeOwner{}
	cfg := testCfg()
	cfg.MinGapBetweenRecordings = 0.008 // 8 samples
	r := New(cfg, 1000, det, owner)
	defer r.Shutdown()

	r.Start()
	feed(r, frameOf(4))
	r.Stop()
	if owner.recStops != 1 {
		t.Fatalf("expected first recording to finalize, got %d stops", owner.recStops)
	}

	r.Start() // clock == lastRecordingEndClock, gap 0 < 8: ignored
	if r.CurrentState() != Inactive {
		t.Fatalf("expected immediate restart to be ignored, got %v", r.CurrentState())
	}

	// The clock keeps advancing even while Inactive, so the gap elapses.
	feed(r, frameOf(4), frameOf(4))
	r.Start() // gap now 8 >= 8: accepted
	if r.CurrentState() != Recording {
		t.Fatalf("expected restart after gap elapsed, got %v", r.CurrentState())
	}
	if owner.recStarts != 2 {
		t.Fatalf("expected two recording starts total, got %d", owner.recStarts)
	}
}

// TestRecorderPrependsPreRoll: samples buffered while Listening are
// prepended to the utterance, so VAD confirmation latency never clips the
// first phoneme.
func TestRecorderPrependsPreRoll(t *testing.T) {
	det := &fakeDetector{verdicts: []bool{false, true, true}}
	owner := &fakeOwner{}
	cfg := testCfg()
	cfg.PreRollDuration = 0.008 // ring holds 8 samples
	r := New(cfg, 1000, det, owner)
	defer r.Shutdown()
	r.Listen()

	f1 := audio.Frame{Samples: []int16{1, 2, 3, 4}, SampleRate: 1000}
	f2 := audio.Frame{Samples: []int16{5, 6, 7, 8}, SampleRate: 1000}
	f3 := audio.Frame{Samples: []int16{9, 10, 11, 12}, SampleRate: 1000}
	feed(r, f1, f2, f3)
	r.Stop()

	if len(owner.utterances) != 1 {
		t.Fatalf("expected one utterance, got %d", len(owner.utterances))
	}
	got := owner.utterances[0]
	want := []int16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	if len(got) != len(want) {
		t.Fatalf("utterance length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("utterance[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRecorderIgnoresAudioWhileInactive(t *testing.T) {
	det := &fakeDetector{verdicts: []bool{true}}
	owner := &fakeOwner{}
	r := New(testCfg(), 1000, det, owner)
	defer r.Shutdown()
	// never call Listen()

	feed(r, frameOf(4))

	if r.CurrentState() != Inactive {
		t.Fatalf("expected Inactive, got %v", r.CurrentState())
	}
	if owner.recStarts != 0 {
		t.Fatal("expected no events while inactive")
	}
}

func TestRecorderShutdownIsIdempotent(t *testing.T) {
	det := &fakeDetector{}
	owner := &fakeOwner{}
	r := New(testCfg(), 1000, det, owner)

	r.Shutdown()
	r.Shutdown()

	if det.closes != 1 {
		t.Fatalf("expected detector closed exactly once, got %d", det.closes)
	}
	// Audio after shutdown is dropped without panicking.
	r.FeedAudio(frameOf(4), 32768)
}

func TestPreRollRingDrainOrder(t *testing.T) {
	ring := NewPreRollRing(4)
	ring.Write([]int16{1, 2, 3})
	ring.Write([]int16{4, 5}) // overflow: drops "1"

	got := ring.Drain()
	want := []int16{2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}
