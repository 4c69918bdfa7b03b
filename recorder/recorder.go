// Package recorder owns the microphone for voice messages. A Controller is a
// toggle: the first press acquires the capture device and starts buffering
// chunks, the second press releases it and packages the buffered chunks
// into one Payload.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxchat/audio"
	"voxchat/log"
)

// ErrCaptureDenied wraps every failure to acquire the capture device.
var ErrCaptureDenied = errors.New("audio capture denied")

type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Payload is one finished recording, ready for upload.
type Payload struct {
	SessionID uuid.UUID
	Data      []byte
	MIMEType  string
	Filename  string
	Chunks    int
	Duration  time.Duration
}

// Indicator mirrors the controller state in the UI. Calls happen in
// lockstep with the transitions, on the goroutine calling Toggle.
type Indicator interface {
	RecordingStarted(id uuid.UUID, device string)
	RecordingStopped(p Payload)
	RecordingFailed(err error)
}

type Config struct {
	Context audio.Context
	Device  *audio.DeviceInfo // nil = system default
	Capture audio.CaptureConfig

	// Packager overrides the device-derived packager when set.
	Packager  Packager
	Indicator Indicator

	// OnFinalized receives every payload. It runs before Toggle returns,
	// so it must hand off long work (uploads) to another goroutine.
	OnFinalized func(Payload)
}

type session struct {
	id       uuid.UUID
	state    State
	device   audio.CaptureDevice
	segments [][]byte
	frames   uint64
	started  time.Time
}

type Controller struct {
	cfg Config

	toggleMu sync.Mutex // serializes Toggle and Close

	mu      sync.Mutex // guards current, including segments fed by the device
	current *session
}

func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// State reports the current session state; StateIdle when there is none.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return StateIdle
	}
	return c.current.state
}

func (c *Controller) Active() bool { return c.State() == StateRecording }

// Toggle starts a session when idle and finalizes it when recording. It
// returns the state after the transition.
func (c *Controller) Toggle() (State, error) {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()

	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()

	if sess == nil {
		if err := c.start(); err != nil {
			if c.cfg.Indicator != nil {
				c.cfg.Indicator.RecordingFailed(err)
			}
			return StateIdle, err
		}
		return StateRecording, nil
	}

	p, err := c.finalize(sess)
	if err != nil {
		if c.cfg.Indicator != nil {
			c.cfg.Indicator.RecordingFailed(err)
		}
		return StateIdle, err
	}
	if c.cfg.Indicator != nil {
		c.cfg.Indicator.RecordingStopped(p)
	}
	if c.cfg.OnFinalized != nil {
		c.cfg.OnFinalized(p)
	}
	return StateIdle, nil
}

func (c *Controller) start() error {
	if c.cfg.Context == nil {
		return fmt.Errorf("%w: no audio context", ErrCaptureDenied)
	}
	dev, err := c.cfg.Context.NewCapture(c.cfg.Device, c.cfg.Capture)
	if err != nil {
		log.Warnf("capture open failed: %v", err)
		return fmt.Errorf("%w: %v", ErrCaptureDenied, err)
	}

	sess := &session{
		id:      uuid.New(),
		state:   StateRecording,
		device:  dev,
		started: time.Now(),
	}
	dev.SetCallback(func(data []byte, frameCount uint32) {
		c.appendChunk(sess, data, frameCount)
	})

	// Publish before Start so chunks delivered synchronously by Start land
	// in the session.
	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()

	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		log.Warnf("capture start failed: %v", err)
		return fmt.Errorf("%w: %v", ErrCaptureDenied, err)
	}

	log.RecordingStart(sess.id.String(), dev.DeviceName(), dev.Format().String())
	if c.cfg.Indicator != nil {
		c.cfg.Indicator.RecordingStarted(sess.id, dev.DeviceName())
	}
	return nil
}

func (c *Controller) appendChunk(sess *session, data []byte, frameCount uint32) {
	if len(data) == 0 {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if sess.state != StateRecording {
		return
	}
	sess.segments = append(sess.segments, chunk)
	sess.frames += uint64(frameCount)
}

func (c *Controller) finalize(sess *session) (Payload, error) {
	// Stop first: chunks still in flight are part of the recording.
	sess.device.Stop()
	sess.device.ClearCallback()
	sess.device.Close()

	c.mu.Lock()
	sess.state = StateFinalizing
	segments := sess.segments
	sess.segments = nil
	c.mu.Unlock()

	packager := c.cfg.Packager
	if packager == nil {
		packager = PackagerFor(sess.device.Format())
	}
	p, err := packager.Package(segments)

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()

	if err != nil {
		log.Errorf("recording %s: packaging failed: %v", sess.id, err)
		return Payload{}, err
	}
	p.SessionID = sess.id
	p.Duration = c.duration(sess)

	log.RecordingStop(sess.id.String(), p.Chunks, len(p.Data), p.Duration)
	return p, nil
}

func (c *Controller) duration(sess *session) time.Duration {
	if sess.frames > 0 && c.cfg.Capture.SampleRate > 0 {
		return time.Duration(float64(sess.frames) / float64(c.cfg.Capture.SampleRate) * float64(time.Second))
	}
	return time.Since(sess.started)
}

// Close releases the device of an active session without emitting a payload.
func (c *Controller) Close() {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()

	c.mu.Lock()
	sess := c.current
	if sess != nil {
		sess.state = StateFinalizing
		sess.segments = nil
		c.current = nil
	}
	c.mu.Unlock()

	if sess != nil {
		sess.device.ClearCallback()
		sess.device.Close()
	}
}
