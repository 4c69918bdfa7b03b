package recorder

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"voxchat/audio"
	"voxchat/encoder"
)

type fakeCapture struct {
	mu       sync.Mutex
	cb       audio.DataCallback
	format   audio.Format
	startErr error
	started  bool
	closed   bool
}

func (f *fakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	f.started = false
	f.mu.Unlock()
}

func (f *fakeCapture) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeCapture) SetCallback(cb audio.DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *fakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *fakeCapture) DeviceName() string   { return "fake" }
func (f *fakeCapture) Format() audio.Format { return f.format }

// emit delivers a chunk the way a device driver would.
func (f *fakeCapture) emit(data []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(data, uint32(len(data)/2))
	}
}

type fakeContext struct {
	format   audio.Format
	openErr  error
	startErr error
	opened   []*fakeCapture
}

func (c *fakeContext) Devices() ([]audio.DeviceInfo, error) { return nil, nil }
func (c *fakeContext) Close()                               {}

func (c *fakeContext) NewCapture(*audio.DeviceInfo, audio.CaptureConfig) (audio.CaptureDevice, error) {
	if c.openErr != nil {
		return nil, c.openErr
	}
	dev := &fakeCapture{format: c.format, startErr: c.startErr}
	c.opened = append(c.opened, dev)
	return dev, nil
}

func (c *fakeContext) last() *fakeCapture { return c.opened[len(c.opened)-1] }

type recordingIndicator struct {
	events []string
}

func (r *recordingIndicator) RecordingStarted(uuid.UUID, string) { r.events = append(r.events, "start") }
func (r *recordingIndicator) RecordingStopped(Payload)           { r.events = append(r.events, "stop") }
func (r *recordingIndicator) RecordingFailed(error)              { r.events = append(r.events, "fail") }

func newController(ctx *fakeContext) (*Controller, *[]Payload, *recordingIndicator) {
	var payloads []Payload
	ind := &recordingIndicator{}
	c := New(Config{
		Context:     ctx,
		Capture:     audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels},
		Indicator:   ind,
		OnFinalized: func(p Payload) { payloads = append(payloads, p) },
	})
	return c, &payloads, ind
}

func TestToggleRecordsAndFinalizes(t *testing.T) {
	ctx := &fakeContext{format: audio.FormatContainer}
	c, payloads, ind := newController(ctx)

	state, err := c.Toggle()
	if err != nil {
		t.Fatalf("first Toggle: %v", err)
	}
	if state != StateRecording || !c.Active() {
		t.Fatalf("state = %v, want recording", state)
	}

	dev := ctx.last()
	dev.emit([]byte("first-"))
	dev.emit([]byte("second"))

	state, err = c.Toggle()
	if err != nil {
		t.Fatalf("second Toggle: %v", err)
	}
	if state != StateIdle || c.State() != StateIdle {
		t.Fatalf("state = %v, want idle", state)
	}

	if len(*payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(*payloads))
	}
	p := (*payloads)[0]
	if string(p.Data) != "first-second" {
		t.Errorf("Data = %q, want %q", p.Data, "first-second")
	}
	if p.MIMEType != WebmMIMEType || p.Filename != WebmFilename {
		t.Errorf("tagged %s %s, want %s %s", p.MIMEType, p.Filename, WebmMIMEType, WebmFilename)
	}
	if p.Chunks != 2 {
		t.Errorf("Chunks = %d, want 2", p.Chunks)
	}
	if p.SessionID == uuid.Nil {
		t.Error("expected a session ID")
	}
	if !dev.closed {
		t.Error("capture device not released after finalize")
	}
	if got := len(ind.events); got != 2 || ind.events[0] != "start" || ind.events[1] != "stop" {
		t.Errorf("indicator events = %v, want [start stop]", ind.events)
	}
}

func TestToggleParity(t *testing.T) {
	for n := 1; n <= 6; n++ {
		ctx := &fakeContext{format: audio.FormatContainer}
		c, payloads, _ := newController(ctx)
		for i := 0; i < n; i++ {
			if _, err := c.Toggle(); err != nil {
				t.Fatalf("n=%d toggle %d: %v", n, i, err)
			}
		}
		wantActive := n%2 == 1
		if c.Active() != wantActive {
			t.Errorf("n=%d: Active = %v, want %v", n, c.Active(), wantActive)
		}
		if len(*payloads) != n/2 {
			t.Errorf("n=%d: %d payloads, want %d", n, len(*payloads), n/2)
		}
		if len(ctx.opened) != (n+1)/2 {
			t.Errorf("n=%d: opened %d devices, want a fresh one per session (%d)", n, len(ctx.opened), (n+1)/2)
		}
	}
}

func TestCaptureDenied(t *testing.T) {
	for _, tt := range []struct {
		name string
		ctx  *fakeContext
	}{
		{"open", &fakeContext{openErr: errors.New("no device")}},
		{"start", &fakeContext{startErr: errors.New("permission denied")}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			c, payloads, ind := newController(tt.ctx)
			state, err := c.Toggle()
			if !errors.Is(err, ErrCaptureDenied) {
				t.Fatalf("err = %v, want ErrCaptureDenied", err)
			}
			if state != StateIdle || c.Active() {
				t.Errorf("state = %v after denial, want idle", state)
			}
			if len(*payloads) != 0 {
				t.Error("denied capture must not emit a payload")
			}
			if len(ind.events) != 1 || ind.events[0] != "fail" {
				t.Errorf("indicator events = %v, want [fail]", ind.events)
			}

			// Recoverable: the next press retries.
			tt.ctx.openErr, tt.ctx.startErr = nil, nil
			if state, err := c.Toggle(); err != nil || state != StateRecording {
				t.Fatalf("retry: state=%v err=%v", state, err)
			}
		})
	}
}

func TestNoChunksYieldsEmptyPayload(t *testing.T) {
	ctx := &fakeContext{format: audio.FormatContainer}
	c, payloads, _ := newController(ctx)
	c.Toggle()
	c.Toggle()
	if len(*payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(*payloads))
	}
	if p := (*payloads)[0]; len(p.Data) != 0 || p.Chunks != 0 {
		t.Errorf("payload = %d bytes / %d chunks, want empty", len(p.Data), p.Chunks)
	}
}

func TestChunksAfterStopAreIgnored(t *testing.T) {
	ctx := &fakeContext{format: audio.FormatContainer}
	c, payloads, _ := newController(ctx)
	c.Toggle()
	dev := ctx.last()
	cb := dev.cb
	dev.emit([]byte("kept"))
	c.Toggle()

	// A late driver callback holding a stale reference must not reach any
	// session.
	cb([]byte("late"), 2)

	if got := string((*payloads)[0].Data); got != "kept" {
		t.Errorf("Data = %q, want %q", got, "kept")
	}
}

func TestPCMDevicePackagesAsFlac(t *testing.T) {
	ctx := &fakeContext{format: audio.FormatPCM16}
	c, payloads, _ := newController(ctx)
	c.Toggle()
	ctx.last().emit(make([]byte, encoder.SampleRate)) // 0.5s of silence
	c.Toggle()

	p := (*payloads)[0]
	if p.MIMEType != encoder.FlacMIMEType || p.Filename != FlacFilename {
		t.Errorf("tagged %s %s, want flac", p.MIMEType, p.Filename)
	}
	if !bytes.HasPrefix(p.Data, []byte("fLaC")) {
		t.Error("payload is not a FLAC stream")
	}
	if p.Duration.Seconds() < 0.49 || p.Duration.Seconds() > 0.51 {
		t.Errorf("Duration = %v, want 0.5s", p.Duration)
	}
}

func TestConcurrentTogglesKeepOneSession(t *testing.T) {
	ctx := &fakeContext{format: audio.FormatContainer}
	c, payloads, _ := newController(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Toggle()
		}()
	}
	wg.Wait()

	if c.Active() {
		t.Error("even number of toggles must end idle")
	}
	if len(*payloads) != 4 {
		t.Errorf("got %d payloads, want 4", len(*payloads))
	}
}

func TestCloseDiscardsActiveSession(t *testing.T) {
	ctx := &fakeContext{format: audio.FormatContainer}
	c, payloads, _ := newController(ctx)
	c.Toggle()
	ctx.last().emit([]byte("x"))
	c.Close()

	if c.Active() {
		t.Error("Close must end the session")
	}
	if len(*payloads) != 0 {
		t.Error("Close must not emit a payload")
	}
	if !ctx.last().closed {
		t.Error("Close must release the device")
	}
}

func TestPackagerByName(t *testing.T) {
	for _, tt := range []struct {
		name    string
		wantNil bool
		wantErr bool
	}{
		{"auto", true, false},
		{"", true, false},
		{"flac", false, false},
		{"webm", false, false},
		{"ogg", true, true},
	} {
		p, err := PackagerByName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("%q: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if (p == nil) != tt.wantNil {
			t.Errorf("%q: packager = %v, wantNil %v", tt.name, p, tt.wantNil)
		}
	}
}
