package vad

import "math"

// energyStage is the cheap, always-on first stage of the detector. It runs
// an RMS-energy check with hysteresis so a single loud transient frame
// doesn't flip the state by itself, modeled on the consecutive-frame
// confirmation window used by energy-based VAD implementations elsewhere
// in this codebase's lineage.
type energyStage struct {
	threshold        float64
	minConfirmFrames int
	consecutiveAbove int
	consecutiveBelow int
	speaking         bool
}

func newEnergyStage(sensitivity float32) *energyStage {
	// Sensitivity divides the base threshold: higher sensitivity
	// means a *lower* trigger threshold (easier to trip as speech).
	base := 0.02
	threshold := base / float64(maxf(sensitivity, 0.05))
	return &energyStage{
		threshold:        threshold,
		minConfirmFrames: 2,
	}
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// maybeVoice reports whether this frame crosses the energy threshold at all,
// without requiring hysteresis confirmation - used to decide whether the
// more expensive neural stage needs to run.
func (e *energyStage) maybeVoice(samples []int16) bool {
	return rms(samples) >= e.threshold
}

// confirm applies hysteresis across frames and returns the stage's current
// speaking verdict.
func (e *energyStage) confirm(above bool) bool {
	if above {
		e.consecutiveAbove++
		e.consecutiveBelow = 0
		if e.consecutiveAbove >= e.minConfirmFrames {
			e.speaking = true
		}
	} else {
		e.consecutiveBelow++
		e.consecutiveAbove = 0
		if e.consecutiveBelow >= e.minConfirmFrames {
			e.speaking = false
		}
	}
	return e.speaking
}

func (e *energyStage) reset() {
	e.consecutiveAbove = 0
	e.consecutiveBelow = 0
	e.speaking = false
}
