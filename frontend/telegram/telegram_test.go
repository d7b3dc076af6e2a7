package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeServer records decoded request bodies per method and replies with
// a scripted response, standing in for the Telegram Bot API.
type fakeServer struct {
	mu       sync.Mutex
	handlers map[string]func(body map[string]any) (int, string)
	calls    map[string][]map[string]any
}

func newFakeServer() *fakeServer {
	return &fakeServer{handlers: map[string]func(map[string]any) (int, string){}, calls: map[string][]map[string]any{}}
}

func (s *fakeServer) on(method string, fn func(map[string]any) (int, string)) {
	s.handlers[method] = fn
}

func (s *fakeServer) start(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		s.mu.Lock()
		s.calls[method] = append(s.calls[method], body)
		handler := s.handlers[method]
		s.mu.Unlock()

		if handler == nil {
			w.Write([]byte(`{"ok":true,"result":{}}`))
			return
		}
		code, resp := handler(body)
		w.WriteHeader(code)
		w.Write([]byte(resp))
	}))
	c := New("tok", "100", WithHTTPClient(srv.Client()), withAPIBase(srv.URL+"/bot", srv.URL+"/file/bot"))
	return srv, c
}

func TestSendChunksOversizedText(t *testing.T) {
	s := newFakeServer()
	srv, c := s.start(t)
	defer srv.Close()

	long := strings.Repeat("a", maxMessageLength+100)
	if _, err := c.Send(context.Background(), "100", long); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(s.calls["sendMessage"]) != 2 {
		t.Fatalf("expected 2 sendMessage calls, got %d", len(s.calls["sendMessage"]))
	}
}

func TestEditTreatsNotModifiedAsSuccess(t *testing.T) {
	s := newFakeServer()
	s.on("editMessageText", func(map[string]any) (int, string) {
		return 400, `{"ok":false,"error_code":400,"description":"Bad Request: message is not modified"}`
	})
	srv, c := s.start(t)
	defer srv.Close()

	if err := c.Edit(context.Background(), "100", "5", "same text"); err != nil {
		t.Fatalf("expected not-modified to be treated as success, got %v", err)
	}
}

func TestEditPropagatesOtherAPIErrors(t *testing.T) {
	s := newFakeServer()
	s.on("editMessageText", func(map[string]any) (int, string) {
		return 400, `{"ok":false,"error_code":400,"description":"Bad Request: message to edit not found"}`
	})
	srv, c := s.start(t)
	defer srv.Close()

	if err := c.Edit(context.Background(), "100", "5", "text"); err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestSendRetriesOn429ThenSucceeds(t *testing.T) {
	s := newFakeServer()
	var attempts int
	s.on("sendMessage", func(map[string]any) (int, string) {
		attempts++
		if attempts == 1 {
			return 429, `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 0","parameters":{"retry_after":0}}`
		}
		return 200, `{"ok":true,"result":{"message_id":9}}`
	})
	srv, c := s.start(t)
	defer srv.Close()

	if _, err := c.Send(context.Background(), "100", "hi"); err != nil {
		t.Fatalf("expected retry to recover from 429, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestSendGivesUpAfterRepeated503s(t *testing.T) {
	s := newFakeServer()
	s.on("sendMessage", func(map[string]any) (int, string) {
		return 503, `{"ok":false,"error_code":503,"description":"Service Unavailable"}`
	})
	srv, c := s.start(t)
	defer srv.Close()

	if _, err := c.Send(context.Background(), "100", "hi"); err == nil {
		t.Fatalf("expected an error after exhausting retries")
	}
	if len(s.calls["sendMessage"]) != 3 {
		t.Fatalf("expected 3 attempts (default max), got %d", len(s.calls["sendMessage"]))
	}
}

func TestPollDropsUpdatesFromOtherChats(t *testing.T) {
	s := newFakeServer()
	first := true
	s.on("getUpdates", func(map[string]any) (int, string) {
		if first {
			first = false
			return 200, `{"ok":true,"result":[
				{"update_id":1,"message":{"message_id":1,"chat":{"id":999},"text":"wrong chat"}},
				{"update_id":2,"message":{"message_id":2,"chat":{"id":100},"text":"right chat"}}
			]}`
		}
		return 200, `{"ok":true,"result":[]}`
	})
	srv, c := s.start(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	ch, err := c.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}

	select {
	case msg := <-ch:
		if msg.Text != "right chat" {
			t.Fatalf("expected only the configured chat's message, got %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestMapToIncomingCarriesVoice(t *testing.T) {
	m := &Message{
		MessageID: 7,
		Chat:      Chat{ID: 100},
		Voice:     &Voice{FileID: "v1", Duration: 12, MimeType: "audio/ogg"},
	}
	msg := mapToIncoming(m)
	if msg.Voice == nil || msg.Voice.FileID != "v1" || msg.Voice.Duration != 12 {
		t.Fatalf("unexpected voice mapping: %+v", msg.Voice)
	}
}

func TestSplitOverflowKeepsWithinLimit(t *testing.T) {
	long := strings.Repeat("x", maxMessageLength+50)
	head, overflow := splitOverflow(long)
	if len(head) > maxMessageLength {
		t.Fatalf("head exceeds limit: %d", len(head))
	}
	if head+overflow != long {
		t.Fatalf("split lost data")
	}
}

func TestSplitOverflowNoOverflowForShortText(t *testing.T) {
	head, overflow := splitOverflow("short")
	if head != "short" || overflow != "" {
		t.Fatalf("unexpected split: head=%q overflow=%q", head, overflow)
	}
}

