package vad

import "testing"

func TestEnergyStageSilence(t *testing.T) {
	e := newEnergyStage(1.0)
	silence := make([]int16, 320)

	for i := 0; i < 5; i++ {
		above := e.maybeVoice(silence)
		if e.confirm(above) {
			t.Fatalf("silence should never confirm as speech (frame %d)", i)
		}
	}
}

func TestEnergyStageLoudSignalConfirmsAfterHysteresis(t *testing.T) {
	e := newEnergyStage(1.0)
	loud := make([]int16, 320)
	for i := range loud {
		loud[i] = 20000
	}

	if e.confirm(e.maybeVoice(loud)) {
		t.Fatal("should not confirm speech on first frame (hysteresis not yet satisfied)")
	}
	if !e.confirm(e.maybeVoice(loud)) {
		t.Fatal("should confirm speech once minConfirmFrames consecutive frames cross threshold")
	}
}

func TestEnergyStageResetClearsHysteresis(t *testing.T) {
	e := newEnergyStage(1.0)
	loud := make([]int16, 320)
	for i := range loud {
		loud[i] = 20000
	}
	e.confirm(true)
	e.confirm(true)
	if !e.speaking {
		t.Fatal("expected speaking=true before reset")
	}
	e.reset()
	if e.speaking {
		t.Fatal("expected speaking=false after reset")
	}
}

func TestRMSZeroForSilence(t *testing.T) {
	if got := rms(make([]int16, 100)); got != 0 {
		t.Errorf("rms(silence) = %v, want 0", got)
	}
}
