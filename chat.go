package main

import (
	"errors"

	"github.com/google/uuid"

	"voxchat/audio"
	"voxchat/beep"
	"voxchat/clipboard"
	"voxchat/dispatch"
	"voxchat/encoder"
	"voxchat/log"
	"voxchat/recorder"
	"voxchat/transcript"
)

// chat bundles the transcript, the dispatcher and the recorder that both
// front ends drive.
type chat struct {
	transcript *transcript.Transcript
	dispatcher *dispatch.Dispatcher
	recorder   *recorder.Controller
	sink       EventSink
}

type chatConfig struct {
	Audio    audio.Context
	Device   *audio.DeviceInfo
	Packager recorder.Packager // nil picks one from the device format
	Dispatch dispatch.Config
	Sink     EventSink
}

func newChat(cfg chatConfig) (*chat, error) {
	tr := transcript.New()
	tr.Subscribe(func(e transcript.Entry) {
		log.ConversationEntry(e.Seq, transcript.Label(e.Role), e.Text)
		cfg.Sink.Entry(e)
	})

	disp, err := dispatch.New(cfg.Dispatch, tr)
	if err != nil {
		return nil, err
	}

	c := &chat{transcript: tr, dispatcher: disp, sink: cfg.Sink}
	c.recorder = recorder.New(recorder.Config{
		Context:     cfg.Audio,
		Device:      cfg.Device,
		Capture:     audio.CaptureConfig{SampleRate: encoder.SampleRate, Channels: encoder.Channels},
		Packager:    cfg.Packager,
		Indicator:   cueIndicator{sinkIndicator{cfg.Sink}},
		OnFinalized: disp.GoVoice,
	})
	return c, nil
}

// toggle flips the recorder. Failures reach the user through the indicator.
func (c *chat) toggle() {
	if _, err := c.recorder.Toggle(); err != nil {
		if errors.Is(err, recorder.ErrCaptureDenied) {
			log.Warnf("toggle: %v", err)
			return
		}
		log.Errorf("toggle: %v", err)
	}
}

func (c *chat) send(text string) {
	c.dispatcher.GoText(text)
}

// lastReply is the most recent bot entry, or "".
func (c *chat) lastReply() string {
	entries := c.transcript.Entries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == transcript.RoleBot {
			return entries[i].Text
		}
	}
	return ""
}

// copyLast copies the last reply and returns a notice for the status line.
func (c *chat) copyLast() string {
	text := c.lastReply()
	if text == "" {
		return "no reply to copy yet"
	}
	if err := clipboard.Copy(transcript.Sanitize(text)); err != nil {
		log.Warnf("clipboard copy: %v", err)
		return "copy failed: " + err.Error()
	}
	return "reply copied to clipboard"
}

// close discards an unfinished recording and waits for in-flight messages.
func (c *chat) close() {
	if c.recorder.Active() {
		log.Warn("discarding unfinished recording on exit")
	}
	c.recorder.Close()
	c.dispatcher.Wait()
}

// cueIndicator plays a beep alongside every recorder transition.
type cueIndicator struct {
	sinkIndicator
}

func (i cueIndicator) RecordingStarted(id uuid.UUID, device string) {
	beep.Play(beep.CueStart)
	i.sinkIndicator.RecordingStarted(id, device)
}

func (i cueIndicator) RecordingStopped(p recorder.Payload) {
	beep.Play(beep.CueStop)
	i.sinkIndicator.RecordingStopped(p)
}

func (i cueIndicator) RecordingFailed(err error) {
	beep.Play(beep.CueError)
	i.sinkIndicator.RecordingFailed(err)
}
