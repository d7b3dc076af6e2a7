// Package codex implements takopi.Engine against the `codex exec` CLI,
// grounded on original_source's exec_render.py (the wire shape: thread.started,
// turn.started/completed/failed, item.started/updated/completed with item
// types agent_message/command_execution/file_change/mcp_tool_call/web_search/
// todo_list/error) and spec.md §8's accepted legacy shape
// (session.started/item.completed/turn.completed).
package codex

import (
	"context"
	"fmt"

	"github.com/hotaru-dev/takopi"
)

// Engine is a takopi.Engine adapter for the codex CLI.
type Engine struct{}

// New constructs a codex Engine.
func New() *Engine { return &Engine{} }

func (e *Engine) ID() takopi.EngineId { return "codex" }
func (e *Engine) Tag() string         { return "codex" }
func (e *Engine) Command() string     { return "codex" }

// BuildArgs builds `codex exec --json [resume <thread-id>]`. The prompt
// itself is carried on stdin, not as an argument.
func (e *Engine) BuildArgs(prompt string, resume *takopi.ResumeToken) []string {
	if resume != nil && resume.Value != "" {
		return []string{"exec", "resume", resume.Value, "--json"}
	}
	return []string{"exec", "--json"}
}

// StdinPayload carries the prompt verbatim on stdin.
func (e *Engine) StdinPayload(prompt string, resume *takopi.ResumeToken) []byte {
	return []byte(prompt)
}

func (e *Engine) Env(prompt string, resume *takopi.ResumeToken) []string { return nil }

// scratch holds per-invocation state threaded through RunState.Scratch: the
// last agent_message text seen, used to populate Completed.Answer when the
// new wire shape's turn.completed carries only usage counters.
type scratch struct {
	lastAnswer string
}

func scratchOf(state *takopi.RunState) *scratch {
	s, _ := state.Scratch.(*scratch)
	if s == nil {
		s = &scratch{}
		state.Scratch = s
	}
	return s
}

// Translate decodes one JSONL line into zero or more Events.
func (e *Engine) Translate(ctx context.Context, data map[string]any, state *takopi.RunState, resume *takopi.ResumeToken, foundSession *takopi.ResumeToken) ([]takopi.Event, error) {
	etype, _ := data["type"].(string)
	scr := scratchOf(state)

	switch etype {
	case "session.started": // legacy shape
		id, _ := data["id"].(string)
		return []takopi.Event{takopi.SessionStartedEvent(takopi.ResumeToken{Engine: e.ID(), Value: id}, "")}, nil

	case "thread.started":
		id, _ := data["thread_id"].(string)
		return []takopi.Event{takopi.SessionStartedEvent(takopi.ResumeToken{Engine: e.ID(), Value: id}, "")}, nil

	case "turn.started":
		return nil, nil

	case "turn.completed":
		// Legacy shape: carries the final answer directly.
		if text, ok := data["text"].(string); ok {
			return []takopi.Event{takopi.CompletedEvent(e.ID(), true, text, foundSession, "")}, nil
		}
		// New shape: answer was accumulated from agent_message items.
		return []takopi.Event{takopi.CompletedEvent(e.ID(), true, scr.lastAnswer, foundSession, "")}, nil

	case "turn.failed":
		msg := errorMessage(data["error"])
		return []takopi.Event{takopi.CompletedEvent(e.ID(), false, "", foundSession, msg)}, nil

	case "error":
		msg, _ := data["message"].(string)
		id := state.NextNoteID("codex")
		return []takopi.Event{takopi.ActionCompletedEvent(e.ID(),
			takopi.Action{ID: id, Kind: takopi.ActionKindWarning, Title: "stream error", Detail: map[string]any{"message": msg}},
			false, msg, "warning")}, nil

	case "item.completed":
		// Legacy shape puts command/exit_code directly on a synthetic item.
		if item, ok := data["item"].(map[string]any); ok && item["type"] == nil {
			return e.translateLegacyItemCompleted(item), nil
		}
		return e.translateItem("item.completed", data, scr), nil

	case "item.started", "item.updated":
		return e.translateItem(etype, data, scr), nil

	default:
		return nil, nil
	}
}

func errorMessage(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	msg, _ := m["message"].(string)
	return msg
}

// translateLegacyItemCompleted handles spec.md §8(a)'s simplified wire shape:
// {"type":"item.completed","item":{"id":...,"command":...,"exit_code":...}}.
func (e *Engine) translateLegacyItemCompleted(item map[string]any) []takopi.Event {
	id, _ := item["id"].(string)
	cmd, _ := item["command"].(string)
	exitCode := item["exit_code"]
	ok := exitCode == float64(0)
	return []takopi.Event{takopi.ActionCompletedEvent(e.ID(),
		takopi.Action{ID: id, Kind: takopi.ActionKindCommand, Detail: map[string]any{"command": cmd, "exit_code": exitCode}},
		ok, "", "info")}
}

// translateItem handles the new wire shape's item.started/updated/completed
// events, grounded on exec_render.py's render_event_progress dispatch over
// item["type"].
func (e *Engine) translateItem(etype string, data map[string]any, scr *scratch) []takopi.Event {
	item, _ := data["item"].(map[string]any)
	if item == nil {
		return nil
	}
	id, _ := item["id"].(string)
	itype, _ := item["type"].(string)
	status, _ := item["status"].(string)
	started := etype == "item.started"

	switch itype {
	case "agent_message":
		if etype != "item.completed" {
			return nil
		}
		text, _ := item["text"].(string)
		scr.lastAnswer = text
		return nil // surfaced via turn.completed's Completed event, not as an Action

	case "command_execution":
		command, _ := item["command"].(string)
		action := takopi.Action{ID: id, Kind: takopi.ActionKindCommand, Detail: map[string]any{"command": command, "exit_code": item["exit_code"]}}
		if started {
			return []takopi.Event{takopi.ActionStartedEvent(e.ID(), action)}
		}
		ok := status == "completed"
		return []takopi.Event{takopi.ActionCompletedEvent(e.ID(), action, ok, "", "info")}

	case "file_change":
		files := fileChangeEntries(item["changes"])
		action := takopi.Action{ID: id, Kind: takopi.ActionKindFileChange, Detail: map[string]any{"files": files}}
		if started {
			return []takopi.Event{takopi.ActionStartedEvent(e.ID(), action)}
		}
		ok := status == "completed" || status == ""
		return []takopi.Event{takopi.ActionCompletedEvent(e.ID(), action, ok, "", "info")}

	case "mcp_tool_call":
		server, _ := item["server"].(string)
		tool, _ := item["tool"].(string)
		action := takopi.Action{ID: id, Kind: takopi.ActionKindTool, Title: fmt.Sprintf("%s.%s", server, tool), Detail: map[string]any{"server": server, "tool": tool}}
		if started {
			return []takopi.Event{takopi.ActionStartedEvent(e.ID(), action)}
		}
		ok := status == "completed"
		msg := ""
		if errv, ok2 := item["error"].(map[string]any); ok2 {
			msg, _ = errv["message"].(string)
		}
		return []takopi.Event{takopi.ActionCompletedEvent(e.ID(), action, ok, msg, "info")}

	case "web_search":
		query, _ := item["query"].(string)
		action := takopi.Action{ID: id, Kind: takopi.ActionKindWebSearch, Detail: map[string]any{"query": query}}
		if started {
			return []takopi.Event{takopi.ActionStartedEvent(e.ID(), action)}
		}
		return []takopi.Event{takopi.ActionCompletedEvent(e.ID(), action, true, "", "info")}

	case "todo_list":
		summary := todoSummary(item["items"])
		action := takopi.Action{ID: id, Kind: takopi.ActionKindNote, Title: summary}
		return []takopi.Event{takopi.ActionCompletedEvent(e.ID(), action, true, "", "info")}

	case "error":
		msg, _ := item["message"].(string)
		action := takopi.Action{ID: id, Kind: takopi.ActionKindWarning, Title: msg}
		return []takopi.Event{takopi.ActionCompletedEvent(e.ID(), action, false, msg, "warning")}

	case "reasoning":
		return nil

	default:
		return nil
	}
}

func fileChangeEntries(v any) []takopi.FileChangeEntry {
	list, _ := v.([]any)
	out := make([]takopi.FileChangeEntry, 0, len(list))
	for _, c := range list {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := m["kind"].(string)
		path, _ := m["path"].(string)
		out = append(out, takopi.FileChangeEntry{Kind: kind, Path: path})
	}
	return out
}

func todoSummary(v any) string {
	list, _ := v.([]any)
	total := len(list)
	done := 0
	next := ""
	for _, it := range list {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		completed, _ := m["completed"].(bool)
		if completed {
			done++
		} else if next == "" {
			next, _ = m["text"].(string)
		}
	}
	if next != "" {
		return fmt.Sprintf("plan: %d/%d done, next: %s", done, total, next)
	}
	return fmt.Sprintf("plan: %d/%d done", done, total)
}

var _ takopi.Engine = (*Engine)(nil)
