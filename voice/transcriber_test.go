package voice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hotaru-dev/takopi"
)

func TestTranscribePostsMultipartAndParsesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if r.FormValue("model") != "whisper-1" {
			t.Fatalf("unexpected model field: %q", r.FormValue("model"))
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		w.Write([]byte(`{"text":"hello world"}`))
	}))
	defer srv.Close()

	tr := New("key", "whisper-1", srv.URL)
	text, err := tr.Transcribe(context.Background(), []byte("fake audio"), "voice.ogg")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestTranscribeNonOKReturnsErrHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	tr := New("key", "whisper-1", srv.URL)
	_, err := tr.Transcribe(context.Background(), []byte("x"), "voice.ogg")
	var httpErr *takopi.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected ErrHTTP 503, got %v", err)
	}
}

func TestHandleDisabledRepliesWithHint(t *testing.T) {
	h := &Handler{Enabled: false}
	text, reply, ok := h.Handle(context.Background(), &takopi.FileInfo{FileID: "v1"})
	if ok || text != "" || reply == "" {
		t.Fatalf("expected disabled hint reply, got text=%q reply=%q ok=%v", text, reply, ok)
	}
}

func TestHandleOversizedDeclaredSizeRejectsWithoutDownloading(t *testing.T) {
	called := false
	h := &Handler{
		Enabled:  true,
		MaxBytes: 100,
		Download: func(ctx context.Context, fileID string) ([]byte, string, error) {
			called = true
			return nil, "", nil
		},
	}
	_, reply, ok := h.Handle(context.Background(), &takopi.FileInfo{FileID: "v1", FileSize: 1000})
	if ok || called {
		t.Fatalf("expected oversize rejection without download; called=%v ok=%v", called, ok)
	}
	if reply == "" {
		t.Fatalf("expected a reply message")
	}
}

func TestHandleDownloadFailureReplies(t *testing.T) {
	h := &Handler{
		Enabled: true,
		Download: func(ctx context.Context, fileID string) ([]byte, string, error) {
			return nil, "", errors.New("boom")
		},
	}
	_, reply, ok := h.Handle(context.Background(), &takopi.FileInfo{FileID: "v1"})
	if ok || reply == "" {
		t.Fatalf("expected download failure reply, got reply=%q ok=%v", reply, ok)
	}
}

func TestHandleTranscriptionFailureRepliesAndDoesNotForwardAudio(t *testing.T) {
	h := &Handler{
		Enabled: true,
		Download: func(ctx context.Context, fileID string) ([]byte, string, error) {
			return []byte("audio"), "voice.ogg", nil
		},
		Transcriber: failingTranscriber{},
	}
	text, reply, ok := h.Handle(context.Background(), &takopi.FileInfo{FileID: "v1"})
	if ok || text != "" || reply == "" {
		t.Fatalf("expected transcription failure reply with no forwarded text, got text=%q reply=%q ok=%v", text, reply, ok)
	}
}

func TestHandleSuccessReturnsTranscribedText(t *testing.T) {
	h := &Handler{
		Enabled: true,
		Download: func(ctx context.Context, fileID string) ([]byte, string, error) {
			return []byte("audio"), "voice.ogg", nil
		},
		Transcriber: stubTranscriber{text: "ship it"},
	}
	text, reply, ok := h.Handle(context.Background(), &takopi.FileInfo{FileID: "v1"})
	if !ok || text != "ship it" || reply != "" {
		t.Fatalf("unexpected result: text=%q reply=%q ok=%v", text, reply, ok)
	}
}

type stubTranscriber struct{ text string }

func (s stubTranscriber) Transcribe(ctx context.Context, audioBytes []byte, filename string) (string, error) {
	return s.text, nil
}

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(ctx context.Context, audioBytes []byte, filename string) (string, error) {
	return "", errors.New("transcription failed")
}
