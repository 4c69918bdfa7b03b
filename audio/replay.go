package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/youpy/go-wav"
)

const (
	replayPCMFrames     = 1024
	replayBytesPerFrame = 2 // 16-bit mono
	replayContainerSize = 16 * 1024
	replayContainerTick = 100 * time.Millisecond
)

// ReplayContext serves a recording from disk as if it were a microphone.
// WAV files are replayed as raw PCM; anything else (webm, ogg) is replayed
// as opaque container fragments.
type ReplayContext struct {
	name       string
	data       []byte
	format     Format
	sampleRate uint32
	realtime   bool
}

func NewReplayContext(path string, sampleRate uint32, realtime bool) (*ReplayContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := FormatContainer
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		format = FormatPCM16
		if data, err = readWAV(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return &ReplayContext{
		name:       filepath.Base(path),
		data:       data,
		format:     format,
		sampleRate: sampleRate,
		realtime:   realtime,
	}, nil
}

const wavHeaderSize = 44

// readWAV returns the sample data of a 16-bit mono PCM WAV file.
func readWAV(data []byte) (pcm []byte, err error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav header: not a RIFF/WAVE file (%d bytes)", len(data))
	}
	// go-riff panics on chunks that run past the end of the file.
	defer func() {
		if r := recover(); r != nil {
			pcm, err = nil, fmt.Errorf("wav header: %v", r)
		}
	}()

	r := wav.NewReader(bytes.NewReader(data))
	f, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("wav header: %w", err)
	}
	if f.AudioFormat != wav.AudioFormatPCM || f.BitsPerSample != 16 || f.NumChannels != 1 {
		return nil, fmt.Errorf("unsupported wav: format=%d bits=%d channels=%d, want 16-bit mono PCM",
			f.AudioFormat, f.BitsPerSample, f.NumChannels)
	}
	return io.ReadAll(r)
}

func (r *ReplayContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: r.name, Name: "replay: " + r.name}}, nil
}

func (r *ReplayContext) Close() {}

func (r *ReplayContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &ReplayCapture{ctx: r, audioDone: make(chan struct{})}, nil
}

// ReplayCapture feeds the replayed file to its callback once per Start.
// Without realtime pacing the whole file is delivered before Start returns.
type ReplayCapture struct {
	ctx *ReplayContext

	mu        sync.Mutex
	cb        DataCallback
	audioDone chan struct{}
	stopCh    chan struct{}
	feedDone  chan struct{}
}

// AudioDone is closed once the whole file has been delivered.
func (c *ReplayCapture) AudioDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioDone
}

func (c *ReplayCapture) SetCallback(cb DataCallback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

func (c *ReplayCapture) ClearCallback() {
	c.mu.Lock()
	c.cb = nil
	c.mu.Unlock()
}

func (c *ReplayCapture) callback() DataCallback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

func (c *ReplayCapture) DeviceName() string { return "replay: " + c.ctx.name }

func (c *ReplayCapture) Format() Format { return c.ctx.format }

func (c *ReplayCapture) chunkSize() (int, time.Duration) {
	if c.ctx.format == FormatPCM16 {
		interval := time.Duration(replayPCMFrames) * time.Second / time.Duration(max(c.ctx.sampleRate, 1))
		return replayPCMFrames * replayBytesPerFrame, interval
	}
	return replayContainerSize, replayContainerTick
}

func (c *ReplayCapture) feedChunk(cb DataCallback, pos, size int) int {
	end := min(pos+size, len(c.ctx.data))
	chunk := make([]byte, end-pos)
	copy(chunk, c.ctx.data[pos:end])
	frames := uint32(0)
	if c.ctx.format == FormatPCM16 {
		frames = uint32(len(chunk) / replayBytesPerFrame)
	}
	cb(chunk, frames)
	return end
}

func (c *ReplayCapture) Start() error {
	c.mu.Lock()
	c.stopCh = make(chan struct{})
	c.feedDone = make(chan struct{})
	audioDone := c.audioDone
	stopCh, feedDone := c.stopCh, c.feedDone
	c.mu.Unlock()

	size, interval := c.chunkSize()

	if !c.ctx.realtime {
		if cb := c.callback(); cb != nil {
			for pos := 0; pos < len(c.ctx.data); {
				pos = c.feedChunk(cb, pos, size)
			}
		}
		close(audioDone)
		close(feedDone)
		return nil
	}

	go func() {
		defer close(feedDone)
		for pos := 0; pos < len(c.ctx.data); {
			if cb := c.callback(); cb != nil {
				pos = c.feedChunk(cb, pos, size)
			}
			select {
			case <-stopCh:
				return
			case <-time.After(interval):
			}
		}
		close(audioDone)
	}()
	return nil
}

func (c *ReplayCapture) Stop() {
	c.mu.Lock()
	stopCh, feedDone := c.stopCh, c.feedDone
	c.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone

	c.mu.Lock()
	c.stopCh = nil
	select {
	case <-c.audioDone:
		c.audioDone = make(chan struct{}) // reset for replay
	default:
	}
	c.mu.Unlock()
}

func (c *ReplayCapture) Close() { c.Stop() }
