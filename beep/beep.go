// Package beep plays short audio cues when recording starts, stops or is
// refused.
package beep

import (
	"math"
	"sync/atomic"
)

type Cue int

const (
	CueStart Cue = iota
	CueStop
	CueError
)

const sampleRate = 44100

// tone is a decaying sine, optionally repeated with silence in between.
type tone struct {
	freq     float64
	volume   float64
	decay    float64
	duration float64 // seconds per beep
	repeat   int
	gap      float64 // seconds between repeats
}

var tones = map[Cue]tone{
	CueStart: {freq: 1200, volume: 0.5, decay: 60, duration: 0.2, repeat: 1},
	CueStop:  {freq: 900, volume: 0.5, decay: 40, duration: 0.2, repeat: 1},
	CueError: {freq: 350, volume: 0.6, decay: 30, duration: 0.08, repeat: 2, gap: 0.05},
}

var disabled atomic.Bool

func Disable() { disabled.Store(true) }

// Play starts the cue and returns immediately.
func Play(c Cue) {
	if disabled.Load() {
		return
	}
	if _, ok := tones[c]; !ok {
		return
	}
	go play(c)
}

// samples renders t as mono 16-bit PCM.
func (t tone) samples(rate int) []int16 {
	n := int(float64(rate) * t.duration)
	beep := make([]int16, n)
	for i := range beep {
		ts := float64(i) / float64(rate)
		envelope := math.Exp(-ts * t.decay)
		beep[i] = int16(math.Sin(2*math.Pi*t.freq*ts) * 32767 * t.volume * envelope)
	}
	gap := make([]int16, int(float64(rate)*t.gap))

	var out []int16
	for r := 0; r < max(t.repeat, 1); r++ {
		if r > 0 {
			out = append(out, gap...)
		}
		out = append(out, beep...)
	}
	return out
}

func stereo(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

func littleEndian(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}
