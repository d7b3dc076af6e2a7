// Package voice implements a Transcriber against an OpenAI-compatible
// audio/transcriptions endpoint, grounded on original_source's
// OpenAIVoiceTranscriber (src/takopi/telegram/voice.py) and adapted to this
// module's HTTP-client conventions from provider/openaicompat's Provider
// (bearer auth header, ErrHTTP on non-2xx).
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/hotaru-dev/takopi"
	"github.com/hotaru-dev/takopi/internal/httpretry"
)

// Transcriber converts recorded audio bytes to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioBytes []byte, filename string) (string, error)
}

// OpenAITranscriber posts to an OpenAI-compatible audio/transcriptions
// endpoint. baseURL defaults to "https://api.openai.com/v1" when empty.
type OpenAITranscriber struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// Option configures an OpenAITranscriber.
type Option func(*OpenAITranscriber)

// WithHTTPClient overrides the http.Client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(t *OpenAITranscriber) { t.client = c }
}

// New constructs an OpenAITranscriber. model is the transcription model name
// (e.g. "whisper-1"); baseURL selects an OpenAI-compatible host.
func New(apiKey, model, baseURL string, opts ...Option) *OpenAITranscriber {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	t := &OpenAITranscriber{apiKey: apiKey, model: model, baseURL: baseURL, client: &http.Client{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ Transcriber = (*OpenAITranscriber)(nil)

// Transcribe uploads audioBytes as a multipart/form-data request to
// {baseURL}/audio/transcriptions and returns the transcribed text. A
// transient 429/503 is retried with backoff via httpretry; the multipart
// body is rebuilt fresh on each attempt since it's a single-use io.Reader.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioBytes []byte, filename string) (string, error) {
	return httpretry.Do(ctx, "voice.transcribe", func() (string, error) {
		return t.transcribeOnce(ctx, audioBytes, filename)
	})
}

func (t *OpenAITranscriber) transcribeOnce(ctx context.Context, audioBytes []byte, filename string) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("voice: create form file: %w", err)
	}
	if _, err := part.Write(audioBytes); err != nil {
		return "", fmt.Errorf("voice: write audio bytes: %w", err)
	}
	if err := w.WriteField("model", t.model); err != nil {
		return "", fmt.Errorf("voice: write model field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("voice: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("voice: create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("voice: HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("voice: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &takopi.ErrHTTP{Status: resp.StatusCode, Body: string(respBody)}
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("voice: decode response: %w", err)
	}
	return decoded.Text, nil
}

// disabledHint is the reply sent when voice transcription is turned off in
// config, per original_source's VOICE_TRANSCRIPTION_DISABLED_HINT.
const disabledHint = "voice transcription is disabled. enable it in config:\n" +
	"```toml\n[transports.telegram]\nvoice_transcription = true\n```"

// Handler wires an incoming voice message through enablement/size gating and
// a Transcriber, replying with human-readable hints on every rejection path
// instead of forwarding raw audio to the agent. Grounded on
// transcribe_voice's gate order: enabled -> declared size -> download ->
// downloaded size -> transcribe.
type Handler struct {
	Transcriber Transcriber
	Enabled     bool
	MaxBytes    int64 // 0 disables the size ceiling
	Download    func(ctx context.Context, fileID string) ([]byte, string, error)
}

// Handle transcribes voice and returns the text to forward to the agent, or
// ("", reply, false) when the message should be answered with reply instead of
// forwarded (disabled, oversized, download failure, or transcription failure).
func (h *Handler) Handle(ctx context.Context, voice *takopi.FileInfo) (text string, reply string, ok bool) {
	if !h.Enabled {
		return "", disabledHint, false
	}
	if h.MaxBytes > 0 && voice.FileSize > 0 && voice.FileSize > h.MaxBytes {
		return "", "voice message is too large to transcribe.", false
	}

	audioBytes, filename, err := h.Download(ctx, voice.FileID)
	if err != nil {
		return "", "failed to download voice file.", false
	}
	if h.MaxBytes > 0 && int64(len(audioBytes)) > h.MaxBytes {
		return "", "voice message is too large to transcribe.", false
	}
	if filename == "" {
		filename = "voice.ogg"
	}

	transcribed, err := h.Transcriber.Transcribe(ctx, audioBytes, filename)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "voice transcription failed"
		}
		return "", msg, false
	}
	return transcribed, "", true
}
