package audio

import "strings"

// Format describes what a capture device hands to its callback.
type Format int

const (
	// FormatPCM16 is raw little-endian signed 16-bit PCM.
	FormatPCM16 Format = iota
	// FormatContainer is a sequence of opaque container fragments (e.g. webm
	// from a recorder) that only form a valid file once concatenated.
	FormatContainer
)

func (f Format) String() string {
	switch f {
	case FormatPCM16:
		return "pcm16"
	case FormatContainer:
		return "container"
	default:
		return "unknown"
	}
}

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth", " bt ", " bt)", " bt]",
}

// IsBluetooth guesses from the device name whether it is a headset that
// drops to a low-bandwidth profile while the microphone is open.
func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives one captured chunk. data is owned by the caller
// only for the duration of the call.
type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

// CaptureDevice is a single microphone grant. Start acquires the device and
// begins delivering chunks to the callback; Stop releases it.
type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
	Format() Format
}
