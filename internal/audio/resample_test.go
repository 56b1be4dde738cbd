package audio

import "testing"

func TestResampleUpsamplesLength(t *testing.T) {
	in := Frame{Samples: make([]int16, 80), SampleRate: 8000}
	out := Resample(in, 16000)

	if len(out.Samples) != 160 {
		t.Fatalf("upsampled length = %d, want 160", len(out.Samples))
	}
}

func TestResamplePreservesConstantSignal(t *testing.T) {
	in := Frame{Samples: make([]int16, 441), SampleRate: 44100}
	for i := range in.Samples {
		in.Samples[i] = 1000
	}
	out := Resample(in, 16000)

	for i, s := range out.Samples {
		if s != 1000 {
			t.Fatalf("constant signal distorted at %d: got %d", i, s)
		}
	}
}

func TestResampleEmptyFrame(t *testing.T) {
	out := Resample(Frame{SampleRate: 44100}, 16000)
	if len(out.Samples) != 0 || out.SampleRate != 16000 {
		t.Fatalf("unexpected result for empty frame: %+v", out)
	}
}
