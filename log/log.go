package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/charmbracelet/x/ansi"
	"github.com/rs/zerolog"
)

var (
	diagLog          zerolog.Logger
	diagFile         *os.File
	conversationFile *os.File
	logMu            sync.Mutex
	logReady         bool
	pid              int
	dir              string
)

// RequestMetrics mirrors the per-request network timings of the dispatcher.
type RequestMetrics struct {
	DNSTimeMs   float64
	TCPTimeMs   float64
	TLSTimeMs   float64
	TTFBMs      float64
	TotalTimeMs float64
	ConnReused  bool
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	// Priority 2: VOXCHAT_LOG_PATH environment variable
	// Priority 3: default OS-specific location
	for _, p := range []string{flagPath, os.Getenv("VOXCHAT_LOG_PATH")} {
		if p == "" {
			continue
		}
		if filepath.IsAbs(p) {
			return p, nil
		}
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(wd, p), nil
	}
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	diagFile, err = os.OpenFile(filepath.Join(dir, "diagnostics_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	conversationFile, err = os.OpenFile(filepath.Join(dir, "conversation_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if conversationFile != nil {
		conversationFile.Close()
		conversationFile = nil
	}
	logReady = false
}

func ready() bool {
	logMu.Lock()
	defer logMu.Unlock()
	return logReady
}

func Info(msg string) {
	if ready() {
		diagLog.Info().Msg(msg)
	}
}

func Warn(msg string) {
	if ready() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if ready() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if ready() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if ready() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(server, packaging string) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("server", server).
		Str("packaging", packaging).
		Msg("session_start")
}

func SessionEnd(entries int) {
	if !ready() {
		return
	}
	diagLog.Info().
		Int("entries", entries).
		Msg("session_end")
}

func RecordingStart(id, device, format string) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("recording", id).
		Str("device", device).
		Str("format", format).
		Msg("recording_start")
}

func RecordingStop(id string, chunks, size int, duration time.Duration) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("recording", id).
		Int("chunks", chunks).
		Float64("size_kb", float64(size)/1024).
		Float64("audio_s", duration.Seconds()).
		Msg("recording_stop")
}

// Dispatch records one backend round trip. status is 0 when no response
// arrived.
func Dispatch(kind, requestID string, status int, m RequestMetrics, err error) {
	if !ready() {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Error().Err(err)
	}
	ev.Str("kind", kind).
		Str("request", requestID).
		Int("status", status).
		Str("conn", connStatus).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tcp_ms", m.TCPTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("dispatch")
}

// ConversationEntry appends one transcript line. Server text is stripped of
// escape sequences and control characters, and tabs and newlines are
// flattened so every entry stays one tab-separated line.
func ConversationEntry(seq uint64, label, text string) {
	logMu.Lock()
	defer logMu.Unlock()
	if !logReady {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%d\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, seq, label, flatten(text))
	conversationFile.WriteString(line)
}

func flatten(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, ansi.Strip(text))
}
