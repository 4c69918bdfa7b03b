package doctor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"voxchat/audio"
	"voxchat/clipboard"
	"voxchat/dispatch"
	"voxchat/encoder"
	"voxchat/hotkey"
	"voxchat/recorder"
	"voxchat/transcript"
)

type Options struct {
	Dispatch dispatch.Config
	Combo    *hotkey.Combo // nil skips the hotkey check
	Device   string        // capture device name, "" = default
	Packager recorder.Packager
}

type doctor struct {
	opts Options
	out  io.Writer
	in   *bufio.Reader
}

// Run executes interactive diagnostic checks and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	resetTerminal()
	setupInterruptHandler()

	d := &doctor{opts: opts, out: os.Stdout, in: bufio.NewReader(os.Stdin)}

	fmt.Fprintln(d.out, "voxchat doctor - interactive system diagnostics")
	fmt.Fprintln(d.out, "================================================")

	checks := []func() bool{d.checkToken, d.checkBackend, d.checkHotkey, d.checkMicAndVoice, d.checkClipboard}
	allPass := true
	for i, check := range checks {
		fmt.Fprintf(d.out, "\n[%d/%d] ", i+1, len(checks))
		if !check() {
			allPass = false
			break
		}
	}

	fmt.Fprintln(d.out)
	if allPass {
		fmt.Fprintln(d.out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(d.out, "Some checks failed. See details above.")
	return 1
}

func (d *doctor) checkToken() bool {
	fmt.Fprintln(d.out, "Anti-forgery token")
	if d.opts.Dispatch.Tokens == nil {
		fmt.Fprintln(d.out, "  SKIP: no token configured, requests go out without one")
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tok, err := d.opts.Dispatch.Tokens.Token(ctx)
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: %v\n", err)
		return false
	}
	if tok == "" {
		fmt.Fprintln(d.out, "  WARN: token source returned no token")
		return true
	}
	fmt.Fprintf(d.out, "  PASS: token available (%d chars)\n", len(tok))
	return true
}

func (d *doctor) checkBackend() bool {
	fmt.Fprintln(d.out, "Chatbot endpoint")
	ok, detail := probeBackend(d.opts.Dispatch)
	if !ok {
		fmt.Fprintf(d.out, "  FAIL: %s\n", detail)
		return false
	}
	fmt.Fprintf(d.out, "  PASS: %s\n", detail)
	return true
}

// probeBackend sends one text message through a scratch transcript and
// reports whether a reply came back.
func probeBackend(cfg dispatch.Config) (bool, string) {
	tr := transcript.New()
	disp, err := dispatch.New(cfg, tr)
	if err != nil {
		return false, err.Error()
	}
	start := time.Now()
	if err := disp.SendText(context.Background(), "ping"); err != nil {
		return false, fmt.Sprintf("%s: %v", disp.TextURL(), err)
	}
	entries := tr.Entries()
	last := entries[len(entries)-1]
	if last.Role != transcript.RoleBot {
		return false, fmt.Sprintf("%s: %s", disp.TextURL(), transcript.Format(last))
	}
	return true, fmt.Sprintf("%s replied in %dms: %s", disp.TextURL(), time.Since(start).Milliseconds(), transcript.Format(last))
}

// uploadVoice sends one recording through a scratch transcript and returns
// the entries it produced along with the voice endpoint it used.
func uploadVoice(cfg dispatch.Config, p recorder.Payload) ([]transcript.Entry, string, error) {
	tr := transcript.New()
	disp, err := dispatch.New(cfg, tr)
	if err != nil {
		return nil, cfg.Server, err
	}
	if err := disp.SendVoice(context.Background(), p); err != nil {
		return nil, disp.VoiceURL(), err
	}
	return tr.Entries(), disp.VoiceURL(), nil
}

func (d *doctor) checkHotkey() bool {
	fmt.Fprintln(d.out, "Hotkey detection")
	if d.opts.Combo == nil {
		fmt.Fprintln(d.out, "  SKIP: global hotkey disabled")
		return true
	}
	msg, err := hotkey.Diagnose()
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: %v\n", err)
		return false
	}
	fmt.Fprintf(d.out, "  %s\n", msg)

	hk, err := hotkey.New(*d.opts.Combo)
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: %v\n", err)
		return false
	}
	if err := hk.Register(); err != nil {
		fmt.Fprintf(d.out, "  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer hk.Unregister()

	fmt.Fprintf(d.out, "Press %s...\n", d.opts.Combo)
	select {
	case <-hk.Keydown():
		fmt.Fprintln(d.out, "  PASS: hotkey detected")
		// Wait for keyup to avoid triggering next step
		select {
		case <-hk.Keyup():
		case <-time.After(5 * time.Second):
		}
		// Reset terminal after hotkey - it may leave terminal in raw mode
		resetTerminal()
		return true
	case <-time.After(10 * time.Second):
		fmt.Fprintln(d.out, "  FAIL: timeout waiting for hotkey")
		return false
	}
}

func (d *doctor) checkMicAndVoice() bool {
	fmt.Fprintln(d.out, "Microphone and voice message")

	actx, err := audio.NewContext()
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: cannot connect to audio: %v\n", err)
		return false
	}
	defer actx.Close()

	device, err := d.pickDevice(actx)
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: %v\n", err)
		return false
	}

	var payload *recorder.Payload
	rec := recorder.New(recorder.Config{
		Context:  actx,
		Device:   device,
		Capture:  audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels},
		Packager: d.opts.Packager,
		OnFinalized: func(p recorder.Payload) {
			payload = &p
		},
	})

	fmt.Fprint(d.out, "Press Enter and speak for 3 seconds...")
	d.in.ReadString('\n')

	if _, err := rec.Toggle(); err != nil {
		fmt.Fprintf(d.out, "  FAIL: %v\n", err)
		return false
	}
	fmt.Fprint(d.out, "  Recording")
	for i := 0; i < 6; i++ {
		time.Sleep(500 * time.Millisecond)
		fmt.Fprint(d.out, ".")
	}
	if _, err := rec.Toggle(); err != nil {
		fmt.Fprintf(d.out, "\n  FAIL: %v\n", err)
		return false
	}
	fmt.Fprintln(d.out, " done")

	if payload == nil || len(payload.Data) == 0 {
		fmt.Fprintln(d.out, "  FAIL: no audio captured")
		return false
	}
	fmt.Fprintf(d.out, "  Recorded %.1f KB (%s), uploading...\n", float64(len(payload.Data))/1024, payload.MIMEType)

	entries, target, err := uploadVoice(d.opts.Dispatch, *payload)
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: %s: %v\n", target, err)
		return false
	}
	fmt.Fprintf(d.out, "  %s answered:\n\n", target)
	for _, e := range entries {
		fmt.Fprintf(d.out, "  %s\n", transcript.Format(e))
	}
	fmt.Fprintln(d.out)

	if !d.confirm("Is the transcription correct?") {
		fmt.Fprintln(d.out, "  FAIL: transcription not confirmed")
		return false
	}
	fmt.Fprintln(d.out, "  PASS: voice round trip verified by user")
	return true
}

func (d *doctor) pickDevice(actx audio.Context) (*audio.DeviceInfo, error) {
	devices, err := actx.Devices()
	if err != nil {
		return nil, fmt.Errorf("cannot list devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no capture devices found")
	}
	if d.opts.Device != "" {
		for i := range devices {
			if devices[i].Name == d.opts.Device {
				fmt.Fprintf(d.out, "Using device: %s\n", devices[i].Name)
				return &devices[i], nil
			}
		}
		return nil, fmt.Errorf("device %q not found", d.opts.Device)
	}
	if len(devices) == 1 {
		fmt.Fprintf(d.out, "Using device: %s\n", devices[0].Name)
		return &devices[0], nil
	}

	fmt.Fprintln(d.out, "Select input device:")
	for i, dev := range devices {
		fmt.Fprintf(d.out, "  %d. %s\n", i+1, dev.Name)
	}
	fmt.Fprintf(d.out, "Choice [1-%d]: ", len(devices))
	choice, _ := d.in.ReadString('\n')
	idx := 1
	if choice = strings.TrimSpace(choice); choice != "" {
		fmt.Sscanf(choice, "%d", &idx)
	}
	if idx < 1 || idx > len(devices) {
		return nil, fmt.Errorf("invalid choice")
	}
	fmt.Fprintf(d.out, "Selected: %s\n", devices[idx-1].Name)
	return &devices[idx-1], nil
}

func (d *doctor) checkClipboard() bool {
	fmt.Fprintln(d.out, "Clipboard")
	if !clipboard.Available() {
		fmt.Fprintln(d.out, "  WARN: no clipboard utility found, Ctrl+Y copy is disabled")
		return true
	}

	prev, _ := clipboard.Read()
	defer clipboard.Copy(prev)

	testStr := "voxchat-doctor-test"
	if err := clipboard.Copy(testStr); err != nil {
		fmt.Fprintf(d.out, "  FAIL: clipboard copy failed: %v\n", err)
		return false
	}
	got, err := clipboard.Read()
	if err != nil {
		fmt.Fprintf(d.out, "  FAIL: clipboard read failed: %v\n", err)
		return false
	}
	if got != testStr {
		fmt.Fprintf(d.out, "  FAIL: read back %q, want %q\n", got, testStr)
		return false
	}
	fmt.Fprintln(d.out, "  PASS: clipboard copy verified")
	return true
}

func (d *doctor) confirm(question string) bool {
	resetTerminal()
	fmt.Fprintf(d.out, "%s [y/n]: ", question)
	answer, _ := d.in.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}
