// Package telegram implements takopi.Frontend against the Telegram Bot HTTP
// API, adapted from cmd/bot_example/telegram.go's Bot: long-polling
// getUpdates, sendMessage/editMessageText with parse_mode=HTML,
// sendChatAction for typing, and getFile+raw GET for downloads.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hotaru-dev/takopi"
	"github.com/hotaru-dev/takopi/internal/httpretry"
)

const (
	maxMessageLength = 4096
	apiBaseURL       = "https://api.telegram.org/bot"
)

// Client implements takopi.Frontend for Telegram, gated to a single chat_id
// per spec.md §6: updates from any other chat are dropped in pollLoop before
// ever reaching a caller.
type Client struct {
	token      string
	chatID     string
	httpClient *http.Client
	logger     *slog.Logger
	apiBase    string
	fileBase   string
}

var _ takopi.Frontend = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the http.Client used for API calls and downloads.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets a structured logger for poll-loop errors.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// New creates a Telegram client scoped to chatID, the single chat the bridge
// serves.
func New(token, chatID string, opts ...ClientOption) *Client {
	c := &Client{
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{},
		logger:     slog.New(slog.DiscardHandler),
		apiBase:    apiBaseURL,
		fileBase:   "https://api.telegram.org/file/bot",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// withAPIBase overrides the Bot API and file-download hosts, used by tests
// to point the client at an httptest server instead of api.telegram.org.
func withAPIBase(apiBase, fileBase string) ClientOption {
	return func(c *Client) { c.apiBase = apiBase; c.fileBase = fileBase }
}

// Poll starts long-polling for updates and returns a channel of incoming
// messages from the configured chat. Updates from other chats are dropped.
func (c *Client) Poll(ctx context.Context) (<-chan takopi.IncomingMessage, error) {
	ch := make(chan takopi.IncomingMessage)
	go c.pollLoop(ctx, ch)
	return ch, nil
}

func (c *Client) pollLoop(ctx context.Context, ch chan<- takopi.IncomingMessage) {
	defer close(ch)
	var offset int64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := c.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("telegram: poll error", "error", err)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil {
				continue
			}
			if strconv.FormatInt(u.Message.Chat.ID, 10) != c.chatID {
				continue
			}
			msg := mapToIncoming(u.Message)
			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Client) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	body := map[string]any{
		"offset":          offset,
		"timeout":         30,
		"allowed_updates": []string{"message"},
	}
	var result []Update
	if err := c.callAPI(ctx, "getUpdates", body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Send posts a new HTML-formatted message, chunking on Telegram's 4096-char
// limit. Returns the id of the last chunk sent.
func (c *Client) Send(ctx context.Context, chatID string, text string) (string, error) {
	var lastMsgID string
	for _, chunk := range splitMessage(text) {
		body := map[string]any{
			"chat_id":    chatID,
			"text":       MarkdownToHTML(chunk),
			"parse_mode": "HTML",
		}
		var result Message
		if err := c.callAPI(ctx, "sendMessage", body, &result); err != nil {
			return "", err
		}
		lastMsgID = strconv.FormatInt(result.MessageID, 10)
	}
	return lastMsgID, nil
}

// Edit replaces a message's text with plain text. An overflow beyond
// Telegram's length limit fills the placeholder and spills into a new
// message, per spec.md §4.10.
func (c *Client) Edit(ctx context.Context, chatID string, msgID string, text string) error {
	head, overflow := splitOverflow(text)
	if err := c.editPlain(ctx, chatID, msgID, head); err != nil {
		return err
	}
	if overflow != "" {
		_, err := c.Send(ctx, chatID, overflow)
		return err
	}
	return nil
}

func (c *Client) editPlain(ctx context.Context, chatID, msgID, text string) error {
	id, err := strconv.ParseInt(msgID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid message ID %q: %w", msgID, err)
	}
	body := map[string]any{"chat_id": chatID, "message_id": id, "text": text}
	err = c.callAPI(ctx, "editMessageText", body, nil)
	if err != nil && isNotModifiedError(err) {
		return nil
	}
	return err
}

// EditFormatted replaces a message's text with Markdown rendered to HTML,
// falling back to plain-text Edit if Telegram rejects the HTML. Overflow
// beyond the length limit spills into a new Send, per spec.md §4.10.
func (c *Client) EditFormatted(ctx context.Context, chatID string, msgID string, text string) error {
	head, overflow := splitOverflow(text)

	id, err := strconv.ParseInt(msgID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid message ID %q: %w", msgID, err)
	}
	body := map[string]any{
		"chat_id":    chatID,
		"message_id": id,
		"text":       MarkdownToHTML(head),
		"parse_mode": "HTML",
	}
	err = c.callAPI(ctx, "editMessageText", body, nil)
	if err != nil && !isNotModifiedError(err) {
		err = c.editPlain(ctx, chatID, msgID, head)
	} else {
		err = nil
	}
	if err != nil {
		return err
	}
	if overflow != "" {
		_, err := c.Send(ctx, chatID, overflow)
		return err
	}
	return nil
}

// SendTyping shows a typing indicator.
func (c *Client) SendTyping(ctx context.Context, chatID string) error {
	body := map[string]any{"chat_id": chatID, "action": "typing"}
	return c.callAPI(ctx, "sendChatAction", body, nil)
}

// DownloadFile downloads a file by id: getFile for the file_path, then a raw
// HTTP GET of the file bytes.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	var file File
	if err := c.callAPI(ctx, "getFile", map[string]any{"file_id": fileID}, &file); err != nil {
		return nil, "", err
	}
	if file.FilePath == "" {
		return nil, "", fmt.Errorf("telegram: empty file_path for file_id %s", fileID)
	}

	url := fmt.Sprintf("%s%s/%s", c.fileBase, c.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: create download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("telegram: download file HTTP %d: %s", resp.StatusCode, string(b))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("telegram: read file body: %w", err)
	}

	parts := strings.Split(file.FilePath, "/")
	return data, parts[len(parts)-1], nil
}

// callAPI posts one Bot API request, retrying a 429/503 with backoff via
// httpretry (flood-control's Retry-After, if present, floors the delay).
func (c *Client) callAPI(ctx context.Context, method string, reqBody any, result any) error {
	envelope, err := httpretry.Do(ctx, "telegram."+method, func() (ApiResponse[json.RawMessage], error) {
		return c.callAPIOnce(ctx, method, reqBody)
	}, httpretry.WithLogger(c.logger))
	if err != nil {
		return err
	}
	if !envelope.OK {
		return &apiError{Code: envelope.ErrorCode, Description: envelope.Description}
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("telegram: decode result: %w", err)
		}
	}
	return nil
}

func (c *Client) callAPIOnce(ctx context.Context, method string, reqBody any) (ApiResponse[json.RawMessage], error) {
	var envelope ApiResponse[json.RawMessage]
	url := c.apiBase + c.token + "/" + method

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return envelope, fmt.Errorf("telegram: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return envelope, fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope, fmt.Errorf("telegram: HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope, fmt.Errorf("telegram: read response: %w", err)
	}

	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return envelope, fmt.Errorf("telegram: decode response: %w (body: %s)", err, string(respBody))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		var retryAfter time.Duration
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		return envelope, &takopi.ErrHTTP{Status: resp.StatusCode, Body: string(respBody), RetryAfter: retryAfter}
	}

	return envelope, nil
}

type apiError struct {
	Code        int
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

func isNotModifiedError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

// mapToIncoming converts a Telegram Message to a takopi.IncomingMessage.
func mapToIncoming(m *Message) takopi.IncomingMessage {
	msg := takopi.IncomingMessage{
		ID:     strconv.FormatInt(m.MessageID, 10),
		ChatID: strconv.FormatInt(m.Chat.ID, 10),
		Text:   m.Text,
	}

	if m.From != nil {
		msg.UserID = strconv.FormatInt(m.From.ID, 10)
	}

	if m.Caption != "" {
		msg.Caption = m.Caption
		if msg.Text == "" {
			msg.Text = m.Caption
		}
	}

	if m.Document != nil {
		msg.Document = &takopi.FileInfo{
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			MimeType: m.Document.MimeType,
			FileSize: m.Document.FileSize,
		}
	}

	if len(m.Photo) > 0 {
		msg.Photos = make([]takopi.FileInfo, len(m.Photo))
		for i, p := range m.Photo {
			msg.Photos[i] = takopi.FileInfo{FileID: p.FileID, FileSize: p.FileSize}
		}
	}

	if m.Voice != nil {
		msg.Voice = &takopi.FileInfo{
			FileID:   m.Voice.FileID,
			MimeType: m.Voice.MimeType,
			FileSize: m.Voice.FileSize,
			Duration: m.Voice.Duration,
		}
	}

	if m.ReplyToMessage != nil {
		msg.ReplyToMsgID = strconv.FormatInt(m.ReplyToMessage.MessageID, 10)
	}

	return msg
}

// splitMessage splits text into chunks within Telegram's 4096-char limit,
// preferring to break on a newline boundary.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLength {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxMessageLength {
			chunks = append(chunks, remaining)
			break
		}
		splitAt := remaining[:maxMessageLength]
		splitPos := strings.LastIndex(splitAt, "\n")
		if splitPos == -1 {
			splitPos = maxMessageLength
		} else {
			splitPos++
		}
		chunks = append(chunks, remaining[:splitPos])
		remaining = remaining[splitPos:]
	}
	return chunks
}

// splitOverflow returns text unchanged when it fits in maxMessageLength bytes.
// Otherwise head ends just after the last newline within the first
// maxMessageLength bytes (or at that byte limit when there is no newline),
// and the rest is overflow to be sent as a follow-up message.
func splitOverflow(text string) (head, overflow string) {
	if len(text) <= maxMessageLength {
		return text, ""
	}
	splitAt := text[:maxMessageLength]
	splitPos := strings.LastIndex(splitAt, "\n")
	if splitPos == -1 {
		splitPos = maxMessageLength
	} else {
		splitPos++
	}
	return text[:splitPos], text[splitPos:]
}
