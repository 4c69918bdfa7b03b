package main

import (
	"github.com/google/uuid"

	"voxchat/recorder"
	"voxchat/transcript"
)

// EventSink abstracts the display layer so both the Bubble Tea TUI and the
// headless test driver receive the same recording and transcript events.
type EventSink interface {
	RecordingStart(device string)
	RecordingStop(p recorder.Payload)
	RecordingFailed(err error)
	Entry(e transcript.Entry)
	Notice(text string)
}

// sinkIndicator feeds recorder transitions into an EventSink.
type sinkIndicator struct {
	sink EventSink
}

func (s sinkIndicator) RecordingStarted(_ uuid.UUID, device string) { s.sink.RecordingStart(device) }
func (s sinkIndicator) RecordingStopped(p recorder.Payload)         { s.sink.RecordingStop(p) }
func (s sinkIndicator) RecordingFailed(err error)                   { s.sink.RecordingFailed(err) }
