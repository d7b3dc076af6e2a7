package claude

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hotaru-dev/takopi"
)

func decode(t *testing.T, line string) map[string]any {
	t.Helper()
	var data map[string]any
	if err := json.Unmarshal([]byte(line), &data); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return data
}

func TestTranslateSystemInitSessionStarted(t *testing.T) {
	e := New()
	state := &takopi.RunState{}
	events, err := e.Translate(context.Background(), decode(t, `{"type":"system","subtype":"init","session_id":"sess-1"}`), state, nil, nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(events) != 1 || events[0].Kind != takopi.EventSessionStarted || events[0].Resume.Value != "sess-1" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestTranslateSystemNonInitIgnored(t *testing.T) {
	e := New()
	state := &takopi.RunState{}
	events, err := e.Translate(context.Background(), decode(t, `{"type":"system","subtype":"compacting"}`), state, nil, nil)
	if err != nil || events != nil {
		t.Fatalf("expected no events, got %+v err=%v", events, err)
	}
}

func TestTranslateAssistantTextAccumulatesIntoAnswer(t *testing.T) {
	e := New()
	state := &takopi.RunState{}
	msg := `{"type":"assistant","message":{"content":[{"type":"text","text":"Hi "}]}}`
	if _, err := e.Translate(context.Background(), decode(t, msg), state, nil, nil); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	msg2 := `{"type":"assistant","message":{"content":[{"type":"text","text":"there!"}]}}`
	if _, err := e.Translate(context.Background(), decode(t, msg2), state, nil, nil); err != nil {
		t.Fatalf("Translate: %v", err)
	}

	done, err := e.Translate(context.Background(), decode(t, `{"type":"result","is_error":false}`), state, nil, nil)
	if err != nil {
		t.Fatalf("Translate result: %v", err)
	}
	if len(done) != 1 || done[0].Answer != "Hi there!" {
		t.Fatalf("unexpected completed event: %+v", done)
	}
}

func TestTranslateToolUseLifecycle(t *testing.T) {
	e := New()
	state := &takopi.RunState{}

	started, err := e.Translate(context.Background(), decode(t, `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"tu1","name":"Read"}]}}`), state, nil, nil)
	if err != nil || len(started) != 1 || started[0].Kind != takopi.EventActionStarted || started[0].Action.ID != "tu1" {
		t.Fatalf("started: events=%+v err=%v", started, err)
	}

	completed, err := e.Translate(context.Background(), decode(t, `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu1","is_error":false}]}}`), state, nil, nil)
	if err != nil || len(completed) != 1 || !completed[0].ActionOK || completed[0].Action.ID != "tu1" {
		t.Fatalf("completed: events=%+v err=%v", completed, err)
	}
}

func TestTranslateResultErrorCarriesMessage(t *testing.T) {
	e := New()
	state := &takopi.RunState{}
	events, err := e.Translate(context.Background(), decode(t, `{"type":"result","is_error":true,"result":"boom"}`), state, nil, nil)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(events) != 1 || events[0].OK || events[0].Error != "boom" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestTranslateStreamEventIgnored(t *testing.T) {
	e := New()
	state := &takopi.RunState{}
	events, err := e.Translate(context.Background(), decode(t, `{"type":"stream_event","event":{"type":"content_block_delta"}}`), state, nil, nil)
	if err != nil || events != nil {
		t.Fatalf("expected no events, got %+v err=%v", events, err)
	}
}

func TestBuildArgsWithResume(t *testing.T) {
	e := New()
	args := e.BuildArgs("hi", &takopi.ResumeToken{Engine: "claude", Value: "sess-1"})
	found := false
	for i, a := range args {
		if a == "--resume" && i+1 < len(args) && args[i+1] == "sess-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected --resume sess-1 in args: %v", args)
	}
}

func TestStdinPayloadCarriesPromptAsStreamJSON(t *testing.T) {
	e := New()
	payload := e.StdinPayload("hello", nil)
	var decoded struct {
		Type    string `json:"type"`
		Message struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.Type != "user" || decoded.Message.Role != "user" || len(decoded.Message.Content) != 1 || decoded.Message.Content[0].Text != "hello" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}
