// Package dispatch submits text and voice messages to the chatbot backend
// and records every outcome in the transcript.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxchat/log"
	"voxchat/recorder"
	"voxchat/transcript"
)

// ErrTransport covers every failure to obtain a decodable reply: network
// errors, timeouts and non-JSON bodies.
var ErrTransport = errors.New("transport failure")

const (
	DefaultTokenHeader = "X-CSRFToken"
	VoiceField         = "audio"

	defaultTimeout = 60 * time.Second
)

// Notices are the fixed texts the dispatcher writes on behalf of the user
// or the backend.
type Notices struct {
	Processing      string // placeholder appended when a voice upload starts
	MissingResponse string // bot reply when the backend sent none
	Failure         string // error entry for transport failures
}

// DefaultLanguage is the notice language used when none is chosen.
const DefaultLanguage = "en"

var notices = map[string]Notices{
	"en": {
		Processing:      "🎤 Processing...",
		MissingResponse: "Error!",
		Failure:         "Could not get a response.",
	},
	"de": {
		Processing:      "🎤 Verarbeitung...",
		MissingResponse: "Fehler!",
		Failure:         "Keine Antwort erhalten.",
	},
	"uk": {
		Processing:      "🎤 Обробка...",
		MissingResponse: "Помилка!",
		Failure:         "Не вдалося отримати відповідь.",
	},
}

// Languages lists the built-in notice languages.
func Languages() []string {
	return []string{"en", "de", "uk"}
}

// NoticesFor returns the built-in notices for lang ("en", "de" or "uk").
func NoticesFor(lang string) (Notices, error) {
	n, ok := notices[strings.ToLower(strings.TrimSpace(lang))]
	if !ok {
		return Notices{}, fmt.Errorf("unknown language %q (want %s)", lang, strings.Join(Languages(), ", "))
	}
	return n, nil
}

func DefaultNotices() Notices {
	return notices[DefaultLanguage]
}

// Result is the backend reply. Absent keys stay nil.
type Result struct {
	Response      *string `json:"response,omitempty"`
	Transcription *string `json:"transcription,omitempty"`
	Error         *string `json:"error,omitempty"`
}

// Appender is the part of the transcript the dispatcher writes to.
type Appender interface {
	Append(role transcript.Role, text string) transcript.Entry
}

type Config struct {
	Server   string // base URL, e.g. http://localhost:5000
	Category string // routes text to /chatbot/<category> when set

	Timeout     time.Duration
	TokenHeader string
	Tokens      TokenSource // nil = never send a token
	Notices     Notices
	Client      *TracedClient
}

type Dispatcher struct {
	cfg      Config
	client   *TracedClient
	log      Appender
	textURL  string
	voiceURL string

	wg sync.WaitGroup
}

func New(cfg Config, t Appender) (*Dispatcher, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Server, "/"))
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", cfg.Server)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = DefaultTokenHeader
	}
	def := DefaultNotices()
	if cfg.Notices.Processing == "" {
		cfg.Notices.Processing = def.Processing
	}
	if cfg.Notices.MissingResponse == "" {
		cfg.Notices.MissingResponse = def.MissingResponse
	}
	if cfg.Notices.Failure == "" {
		cfg.Notices.Failure = def.Failure
	}
	client := cfg.Client
	if client == nil {
		client = NewTracedClient(cfg.Timeout)
	}

	text := base.JoinPath("chatbot")
	if cfg.Category != "" {
		text = text.JoinPath(cfg.Category)
	}
	return &Dispatcher{
		cfg:      cfg,
		client:   client,
		log:      t,
		textURL:  text.String(),
		voiceURL: base.JoinPath("chatbot", "voice").String(),
	}, nil
}

func (d *Dispatcher) TextURL() string  { return d.textURL }
func (d *Dispatcher) VoiceURL() string { return d.voiceURL }

// SendText appends the message, posts it and appends exactly one reply or
// error entry. Blank messages are ignored. The returned error is for
// logging; the transcript already reflects it.
func (d *Dispatcher) SendText(ctx context.Context, message string) error {
	if strings.TrimSpace(message) == "" {
		return nil
	}
	d.log.Append(transcript.RoleUser, message)

	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		d.log.Append(transcript.RoleError, d.cfg.Notices.Failure)
		return err
	}
	res, err := d.post(ctx, "text", d.textURL, "application/json", body)
	if err != nil {
		d.log.Append(transcript.RoleError, d.cfg.Notices.Failure)
		return err
	}
	d.log.Append(transcript.RoleBot, d.reply(res.Response))
	return nil
}

// SendVoice appends a processing placeholder, uploads the payload and
// appends either the backend error, or the transcription followed by the
// reply. The placeholder stays in the transcript.
func (d *Dispatcher) SendVoice(ctx context.Context, p recorder.Payload) error {
	d.log.Append(transcript.RoleUser, d.cfg.Notices.Processing)

	body, contentType, err := voiceForm(p)
	if err != nil {
		d.log.Append(transcript.RoleError, d.cfg.Notices.Failure)
		return err
	}
	res, err := d.post(ctx, "voice", d.voiceURL, contentType, body)
	if err != nil {
		d.log.Append(transcript.RoleError, d.cfg.Notices.Failure)
		return err
	}
	if res.Error != nil && *res.Error != "" {
		d.log.Append(transcript.RoleError, *res.Error)
		return nil
	}
	d.log.Append(transcript.RoleUser, deref(res.Transcription))
	d.log.Append(transcript.RoleBot, d.reply(res.Response))
	return nil
}

// GoText runs SendText in the background.
func (d *Dispatcher) GoText(message string) {
	if strings.TrimSpace(message) == "" {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.SendText(context.Background(), message)
	}()
}

// GoVoice runs SendVoice in the background.
func (d *Dispatcher) GoVoice(p recorder.Payload) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.SendVoice(context.Background(), p)
	}()
}

// Wait blocks until every background dispatch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) reply(s *string) string {
	if s == nil || *s == "" {
		return d.cfg.Notices.MissingResponse
	}
	return *s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (d *Dispatcher) post(ctx context.Context, kind, target, contentType string, body []byte) (*Result, error) {
	reqID := uuid.NewString()
	req, err := http.NewRequestWithContext(ctx, "POST", target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)
	withToken := d.attachToken(ctx, req)

	resp, metrics, err := d.client.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrTransport, err)
		log.Dispatch(kind, reqID, 0, metrics.logFields(), err)
		return nil, err
	}
	if withToken && (resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden) {
		d.invalidateToken(resp.StatusCode)
	}

	var res Result
	if err := json.Unmarshal(resp.Body, &res); err != nil {
		err = fmt.Errorf("%w: status %d: decode reply: %v", ErrTransport, resp.StatusCode, err)
		log.Dispatch(kind, reqID, resp.StatusCode, metrics.logFields(), err)
		return nil, err
	}
	log.Dispatch(kind, reqID, resp.StatusCode, metrics.logFields(), nil)
	return &res, nil
}

// attachToken sets the anti-forgery header and reports whether it did.
func (d *Dispatcher) attachToken(ctx context.Context, req *http.Request) bool {
	if d.cfg.Tokens == nil {
		return false
	}
	token, err := d.cfg.Tokens.Token(ctx)
	if err != nil {
		log.Warnf("csrf token unavailable: %v", err)
		return false
	}
	if token == "" {
		return false
	}
	req.Header.Set(d.cfg.TokenHeader, token)
	return true
}

// invalidateToken drops a token the backend may have rejected so the next
// message fetches a fresh one. The current message is not retried.
func (d *Dispatcher) invalidateToken(status int) {
	inv, ok := d.cfg.Tokens.(Invalidator)
	if !ok {
		return
	}
	log.Warnf("backend answered %d to a tokened request, refreshing csrf token", status)
	inv.Invalidate()
}

func voiceForm(p recorder.Payload) ([]byte, string, error) {
	filename := p.Filename
	if filename == "" {
		filename = recorder.WebmFilename
	}
	mimeType := p.MIMEType
	if mimeType == "" {
		mimeType = recorder.WebmMIMEType
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, VoiceField, filename))
	h.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(p.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}
