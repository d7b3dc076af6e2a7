package takopi

import "context"

// Frontend abstracts the messaging channel a bridge runs against (Telegram
// today; Discord/HTTP/CLI could adapt the same shape). Grounded on
// frontend.go's Frontend interface, carried into this package so
// frontend/telegram can implement it directly against takopi domain types.
type Frontend interface {
	// Poll returns a channel of incoming messages. Blocks until ctx is cancelled.
	Poll(ctx context.Context) (<-chan IncomingMessage, error)
	// Send sends a new message, returns the message ID for later editing.
	Send(ctx context.Context, chatID string, text string) (string, error)
	// Edit updates an existing message with plain text.
	Edit(ctx context.Context, chatID string, msgID string, text string) error
	// EditFormatted updates an existing message with rich formatting (HTML).
	EditFormatted(ctx context.Context, chatID string, msgID string, text string) error
	// SendTyping shows a typing indicator.
	SendTyping(ctx context.Context, chatID string) error
	// DownloadFile downloads a file by ID, returns data and filename.
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

// IncomingMessage is one inbound chat message, normalized across frontends.
// Grounded on types.go's IncomingMessage, extended with Voice for C12.
type IncomingMessage struct {
	ID           string
	ChatID       string
	UserID       string
	Text         string
	ReplyToMsgID string
	Document     *FileInfo
	Photos       []FileInfo
	Voice        *FileInfo
	Caption      string
}

// FileInfo describes a file attachment available for download.
type FileInfo struct {
	FileID   string
	FileName string
	MimeType string
	FileSize int64
	Duration int
}
