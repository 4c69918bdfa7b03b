package recorder

import (
	"bytes"
	"fmt"

	"voxchat/audio"
	"voxchat/encoder"
)

const (
	WebmMIMEType = "audio/webm"
	WebmFilename = "voice_message.webm"
	FlacFilename = "voice_message.flac"
)

// Packager turns the ordered segments of one recording into a single
// submittable payload. Implementations must not drop or reorder segments.
type Packager interface {
	Package(segments [][]byte) (Payload, error)
}

// ConcatPackager joins segments verbatim. It suits devices whose chunks are
// already container fragments.
type ConcatPackager struct {
	MIMEType string
	Filename string
}

func (p ConcatPackager) Package(segments [][]byte) (Payload, error) {
	mime, name := p.MIMEType, p.Filename
	if mime == "" {
		mime = WebmMIMEType
	}
	if name == "" {
		name = WebmFilename
	}
	return Payload{
		Data:     bytes.Join(segments, nil),
		MIMEType: mime,
		Filename: name,
		Chunks:   len(segments),
	}, nil
}

// FlacPackager joins raw PCM segments and wraps them in a FLAC stream.
type FlacPackager struct {
	Filename string
}

func (p FlacPackager) Package(segments [][]byte) (Payload, error) {
	name := p.Filename
	if name == "" {
		name = FlacFilename
	}
	enc, err := encoder.NewFlac()
	if err != nil {
		return Payload{}, err
	}
	if err := encoder.EncodeAll(enc, encoder.Samples(bytes.Join(segments, nil))); err != nil {
		return Payload{}, fmt.Errorf("flac packaging: %w", err)
	}
	return Payload{
		Data:     enc.Bytes(),
		MIMEType: encoder.FlacMIMEType,
		Filename: name,
		Chunks:   len(segments),
	}, nil
}

// PackagerFor picks the packager matching what a capture device emits.
func PackagerFor(format audio.Format) Packager {
	if format == audio.FormatPCM16 {
		return FlacPackager{}
	}
	return ConcatPackager{}
}

// PackagerByName resolves the -format flag. "auto" defers to the device.
func PackagerByName(name string) (Packager, error) {
	switch name {
	case "", "auto":
		return nil, nil
	case "flac":
		return FlacPackager{}, nil
	case "webm", "raw":
		return ConcatPackager{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (use auto, flac or webm)", name)
	}
}
