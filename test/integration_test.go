//go:build integration

package test_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

var testBinary string

func TestMain(m *testing.M) {
	testBinary = os.Getenv("VOXCHAT_TEST_BIN")
	if testBinary == "" {
		fmt.Fprintln(os.Stderr, "VOXCHAT_TEST_BIN not set; run: go build -o /tmp/voxchat . && VOXCHAT_TEST_BIN=/tmp/voxchat go test -tags integration ./test")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func silenceWAV(t *testing.T, sampleRate int, durationS float64) string {
	t.Helper()
	const headerSize = 44
	numSamples := int(float64(sampleRate) * durationS)
	dataSize := numSamples * 2

	buf := make([]byte, headerSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerSize-8+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)  // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))

	path := filepath.Join(t.TempDir(), "silence.wav")
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func webmClip(t *testing.T, size int) (string, []byte) {
	t.Helper()
	data := bytes.Repeat([]byte{0x1a, 0x45, 0xdf, 0xa3}, size/4)
	path := filepath.Join(t.TempDir(), "clip.webm")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path, data
}

// chatbot mimics the backend: it echoes text and answers voice uploads with
// a fixed transcription.
type chatbot struct {
	mu        sync.Mutex
	tokens    []string
	voice     []byte
	voiceName string
	voiceType string
}

func (b *chatbot) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.tokens = append(b.tokens, r.Header.Get("X-CSRFToken"))
	b.mu.Unlock()

	switch r.URL.Path {
	case "/chatbot", "/chatbot/fitness":
		var body struct{ Message string }
		json.NewDecoder(r.Body).Decode(&body)
		if body.Message == "silent" {
			io.WriteString(w, `{}`)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"response": "echo: " + body.Message + " via " + r.URL.Path})
	case "/chatbot/voice":
		file, header, err := r.FormFile("audio")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"No audio file"}`)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		b.mu.Lock()
		b.voice, b.voiceName, b.voiceType = data, header.Filename, header.Header.Get("Content-Type")
		b.mu.Unlock()
		io.WriteString(w, `{"transcription":"hi","response":"hello"}`)
	default:
		http.NotFound(w, r)
	}
}

func cmds(parts ...string) string {
	return strings.Join(parts, "\n") + "\n"
}

func runVoxchat(t *testing.T, stdin string, args ...string) (stdout, logDir string) {
	t.Helper()
	logDir = t.TempDir()
	cmdArgs := append([]string{"-logpath", logDir}, args...)

	cmd := exec.Command(testBinary, cmdArgs...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Env = os.Environ()
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("voxchat exited with error: %v\nstdout: %s\nstderr: %s", err, out, errBuf.String())
	}
	return string(out), logDir
}

func readLog(t *testing.T, logDir, filename string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(logDir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return ""
		}
		t.Fatalf("failed to read %s: %v", filename, err)
	}
	return string(data)
}

func requireLines(t *testing.T, out string, want ...string) {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for _, w := range want {
		found := false
		for _, l := range lines {
			if l == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing line %q in output:\n%s", w, out)
		}
	}
}

func TestTextMessage(t *testing.T) {
	srv := httptest.NewServer(&chatbot{})
	defer srv.Close()
	clip, _ := webmClip(t, 64)

	out, logDir := runVoxchat(t, cmds("SAY Hello", "WAIT", "SAY silent", "WAIT", "SAY    ", "WAIT", "QUIT"),
		"-server", srv.URL, "-test", clip)

	requireLines(t, out,
		"You: Hello",
		"Bot: echo: Hello via /chatbot",
		"You: silent",
		"Bot: Error!")
	if n := strings.Count(out, "You:"); n != 2 {
		t.Errorf("%d user entries, want 2 (blank input is ignored)", n)
	}

	conv := readLog(t, logDir, "conversation_log.txt")
	if !strings.Contains(conv, "\tYou\tHello") || !strings.Contains(conv, "\tBot\techo: Hello via /chatbot") {
		t.Errorf("conversation_log.txt missing entries:\n%s", conv)
	}
	if diag := readLog(t, logDir, "diagnostics_log.txt"); !strings.Contains(diag, "dispatch") {
		t.Errorf("diagnostics_log.txt has no dispatch events:\n%s", diag)
	}
}

func TestCategoryAndToken(t *testing.T) {
	bot := &chatbot{}
	srv := httptest.NewServer(bot)
	defer srv.Close()
	clip, _ := webmClip(t, 64)

	out, _ := runVoxchat(t, cmds("SAY plan", "WAIT", "QUIT"),
		"-server", srv.URL, "-category", "fitness", "-csrf-token", "tok-1", "-test", clip)

	requireLines(t, out, "Bot: echo: plan via /chatbot/fitness")
	if len(bot.tokens) != 1 || bot.tokens[0] != "tok-1" {
		t.Errorf("tokens = %q", bot.tokens)
	}
}

func TestVoiceMessageWebm(t *testing.T) {
	bot := &chatbot{}
	srv := httptest.NewServer(bot)
	defer srv.Close()
	clip, data := webmClip(t, 40*1024)

	out, _ := runVoxchat(t, cmds("TOGGLE", "WAIT_AUDIO_DONE", "TOGGLE", "WAIT", "QUIT"),
		"-server", srv.URL, "-test", clip)

	requireLines(t, out,
		"You: 🎤 Processing...",
		"You: hi",
		"Bot: hello")
	if !bytes.Equal(bot.voice, data) {
		t.Errorf("uploaded %d bytes, want the %d recorded", len(bot.voice), len(data))
	}
	if bot.voiceName != "voice_message.webm" || bot.voiceType != "audio/webm" {
		t.Errorf("upload tagged %q %q", bot.voiceName, bot.voiceType)
	}
	if !strings.Contains(out, "STOP chunks=3 ") {
		t.Errorf("expected three replayed chunks:\n%s", out)
	}
}

func TestVoiceMessageFlac(t *testing.T) {
	bot := &chatbot{}
	srv := httptest.NewServer(bot)
	defer srv.Close()
	wav := silenceWAV(t, 16000, 0.5)

	out, _ := runVoxchat(t, cmds("TOGGLE", "WAIT_AUDIO_DONE", "TOGGLE", "WAIT", "QUIT"),
		"-server", srv.URL, "-test", wav)

	requireLines(t, out, "Bot: hello")
	if !bytes.HasPrefix(bot.voice, []byte("fLaC")) {
		t.Error("PCM capture was not packaged as FLAC")
	}
	if bot.voiceName != "voice_message.flac" || bot.voiceType != "audio/flac" {
		t.Errorf("upload tagged %q %q", bot.voiceName, bot.voiceType)
	}
}

func TestBackendDown(t *testing.T) {
	srv := httptest.NewServer(&chatbot{})
	url := srv.URL
	srv.Close()
	clip, _ := webmClip(t, 64)

	out, _ := runVoxchat(t, cmds("SAY Hello", "TOGGLE", "TOGGLE", "WAIT", "QUIT"),
		"-server", url, "-timeout", "2s", "-test", clip)

	if n := strings.Count(out, "Error: Could not get a response."); n != 2 {
		t.Errorf("%d failure entries, want one per message:\n%s", n, out)
	}
}
