// Package claude implements takopi.Engine against the `claude` CLI's
// stream-json protocol, grounded on wingedpig-trellis/internal/claude/
// manager.go's StreamEvent/ContentBlock shapes and readLoop dispatch.
package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hotaru-dev/takopi"
)

// Engine is a takopi.Engine adapter for the claude CLI.
type Engine struct{}

// New constructs a claude Engine.
func New() *Engine { return &Engine{} }

func (e *Engine) ID() takopi.EngineId { return "claude" }
func (e *Engine) Tag() string         { return "claude" }
func (e *Engine) Command() string     { return "claude" }

// BuildArgs builds the stream-json argv, grounded on manager.go's
// ensureProcess args (minus the long-running-session-specific
// --permission-prompt-tool/--permission-mode, which belong to trellis's
// interactive approval flow, not a one-shot bridge invocation).
func (e *Engine) BuildArgs(prompt string, resume *takopi.ResumeToken) []string {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
		"--include-partial-messages",
	}
	if resume != nil && resume.Value != "" {
		args = append(args, "--resume", resume.Value)
	}
	return args
}

// contentBlock mirrors manager.go's ContentBlock for the subset of fields
// this bridge cares about.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type stdinUserMessage struct {
	Type    string            `json:"type"`
	Message stdinMessageInner `json:"message"`
}

type stdinMessageInner struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// StdinPayload writes one stream-json user message carrying prompt, per
// manager.go's stdinUserMessage shape.
func (e *Engine) StdinPayload(prompt string, resume *takopi.ResumeToken) []byte {
	msg := stdinUserMessage{
		Type: "user",
		Message: stdinMessageInner{
			Role:    "user",
			Content: []contentBlock{{Type: "text", Text: prompt}},
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil
	}
	return append(data, '\n')
}

func (e *Engine) Env(prompt string, resume *takopi.ResumeToken) []string { return nil }

// scratch accumulates the current turn's assistant text across possibly
// multiple "assistant" events, so a trailing "result" event can surface it
// as Completed.Answer.
type scratch struct {
	answer string
}

func scratchOf(state *takopi.RunState) *scratch {
	s, _ := state.Scratch.(*scratch)
	if s == nil {
		s = &scratch{}
		state.Scratch = s
	}
	return s
}

// Translate decodes one NDJSON line. Grounded on manager.go's readLoop:
// "system"(init) carries the session id; "assistant" messages carry content
// blocks (text accumulates into the answer, tool_use starts an action);
// "user" messages carry tool_result blocks that complete a prior tool_use
// action; "result" is terminal. "stream_event" partial deltas are ignored
// and produce no Events.
func (e *Engine) Translate(ctx context.Context, data map[string]any, state *takopi.RunState, resume *takopi.ResumeToken, foundSession *takopi.ResumeToken) ([]takopi.Event, error) {
	etype, _ := data["type"].(string)
	scr := scratchOf(state)

	switch etype {
	case "system":
		if subtype, _ := data["subtype"].(string); subtype != "init" {
			return nil, nil
		}
		sid, _ := data["session_id"].(string)
		if sid == "" {
			return nil, nil
		}
		return []takopi.Event{takopi.SessionStartedEvent(takopi.ResumeToken{Engine: e.ID(), Value: sid}, "")}, nil

	case "stream_event":
		return nil, nil

	case "assistant":
		blocks, err := messageContentBlocks(data["message"])
		if err != nil {
			return nil, fmt.Errorf("claude: decode assistant message: %w", err)
		}
		var events []takopi.Event
		for _, b := range blocks {
			switch b.Type {
			case "text":
				scr.answer += b.Text
			case "tool_use":
				events = append(events, takopi.ActionStartedEvent(e.ID(), takopi.Action{
					ID: b.ID, Kind: takopi.ActionKindTool, Title: b.Name,
					Detail: map[string]any{"tool": b.Name},
				}))
			}
		}
		return events, nil

	case "user":
		blocks, err := messageContentBlocks(data["message"])
		if err != nil {
			return nil, fmt.Errorf("claude: decode user message: %w", err)
		}
		var events []takopi.Event
		for _, b := range blocks {
			if b.Type != "tool_result" {
				continue
			}
			events = append(events, takopi.ActionCompletedEvent(e.ID(),
				takopi.Action{ID: b.ToolUseID, Kind: takopi.ActionKindTool},
				!b.IsError, "", "info"))
		}
		return events, nil

	case "result":
		isError, _ := data["is_error"].(bool)
		answer := scr.answer
		if answer == "" {
			answer, _ = data["result"].(string)
		}
		resumeOut := foundSession
		if sid, _ := data["session_id"].(string); sid != "" {
			tok := takopi.ResumeToken{Engine: e.ID(), Value: sid}
			resumeOut = &tok
		}
		errMsg := ""
		if isError {
			errMsg, _ = data["result"].(string)
		}
		return []takopi.Event{takopi.CompletedEvent(e.ID(), !isError, answer, resumeOut, errMsg)}, nil

	default:
		return nil, nil
	}
}

func messageContentBlocks(v any) ([]contentBlock, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var msg struct {
		Content []contentBlock `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	return msg.Content, nil
}

var _ takopi.Engine = (*Engine)(nil)
