package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"voxchat/audio"
	"voxchat/beep"
	"voxchat/dispatch"
	"voxchat/encoder"
	"voxchat/hotkey"
	"voxchat/log"
	"voxchat/recorder"
	"voxchat/transcript"
)

// trackingContext remembers the last capture it opened so the driver can
// wait for the replayed file to run out.
type trackingContext struct {
	*audio.ReplayContext

	mu   sync.Mutex
	last *audio.ReplayCapture
}

func (t *trackingContext) NewCapture(dev *audio.DeviceInfo, cfg audio.CaptureConfig) (audio.CaptureDevice, error) {
	c, err := t.ReplayContext.NewCapture(dev, cfg)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.last, _ = c.(*audio.ReplayCapture)
	t.mu.Unlock()
	return c, nil
}

func (t *trackingContext) audioDone() <-chan struct{} {
	t.mu.Lock()
	last := t.last
	t.mu.Unlock()
	if last == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return last.AudioDone()
}

// textSink prints one line per event for the integration tests.
type textSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *textSink) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *textSink) RecordingStart(device string) { s.printf("REC %s", device) }
func (s *textSink) RecordingStop(p recorder.Payload) {
	s.printf("STOP chunks=%d bytes=%d type=%s", p.Chunks, len(p.Data), p.MIMEType)
}
func (s *textSink) RecordingFailed(err error) { s.printf("DENIED %v", err) }
func (s *textSink) Entry(e transcript.Entry) {
	s.printf("%s", strings.ReplaceAll(transcript.Format(e), "\n", " "))
}
func (s *textSink) Notice(text string) { s.printf("NOTICE %s", text) }

// runTestMode drives the chat from stdin, with path replayed as the
// microphone. Commands:
//
//	SAY <text>       send a text message
//	TOGGLE           press the record hotkey and wait for the transition
//	WAIT_AUDIO_DONE  wait until the replayed file has been delivered
//	WAIT             wait for every in-flight message
//	SLEEP <ms>
//	QUIT
func runTestMode(path string, packager recorder.Packager, cfg dispatch.Config) int {
	beep.Disable()

	replay, err := audio.NewReplayContext(path, encoder.SampleRate, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading recording: %v\n", err)
		return 1
	}
	actx := &trackingContext{ReplayContext: replay}

	c, err := newChat(chatConfig{
		Audio:    actx,
		Packager: packager,
		Dispatch: cfg,
		Sink:     &textSink{out: os.Stdout},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer gracefulShutdown(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Same path as the global hotkey in run()
	hk := hotkey.NewFake()
	toggled := make(chan struct{})
	go func() {
		for range hotkey.Toggles(ctx, hk, 0) {
			c.toggle()
			toggled <- struct{}{}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case cmd == "TOGGLE":
			hk.SimPress()
			<-toggled
		case cmd == "WAIT":
			c.dispatcher.Wait()
		case cmd == "WAIT_AUDIO_DONE":
			<-actx.audioDone()
		case cmd == "QUIT":
			return 0
		case strings.HasPrefix(cmd, "SAY "):
			c.send(strings.TrimPrefix(cmd, "SAY "))
		case strings.HasPrefix(cmd, "SLEEP "):
			if ms, err := strconv.Atoi(cmd[6:]); err == nil {
				time.Sleep(time.Duration(ms) * time.Millisecond)
			}
		case cmd != "":
			log.Warnf("test mode: unknown command %q", cmd)
		}
	}
	return 0
}
