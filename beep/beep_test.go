package beep

import "testing"

func TestToneSamples(t *testing.T) {
	single := tones[CueStart].samples(1000)
	if len(single) != 200 {
		t.Fatalf("start cue = %d samples, want 200", len(single))
	}
	if abs(single[len(single)-1]) >= 100 {
		t.Errorf("tail not decayed: %d", single[len(single)-1])
	}

	double := tones[CueError].samples(1000)
	// two 80ms beeps around a 50ms gap
	if len(double) != 80+50+80 {
		t.Fatalf("error cue = %d samples, want 210", len(double))
	}
	for i := 80; i < 130; i++ {
		if double[i] != 0 {
			t.Fatalf("gap sample %d = %d, want silence", i, double[i])
		}
	}
}

func TestStereoAndLittleEndian(t *testing.T) {
	s := stereo([]int16{1, -2})
	if len(s) != 4 || s[0] != 1 || s[1] != 1 || s[2] != -2 || s[3] != -2 {
		t.Errorf("stereo = %v", s)
	}
	b := littleEndian([]int16{0x0102, -1})
	if len(b) != 4 || b[0] != 0x02 || b[1] != 0x01 || b[2] != 0xff || b[3] != 0xff {
		t.Errorf("littleEndian = %x", b)
	}
}

func TestDisableSilencesPlay(t *testing.T) {
	Disable()
	Play(CueStart) // must not reach a sound server
	if !disabled.Load() {
		t.Error("Disable did not stick")
	}
}

func abs(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}
