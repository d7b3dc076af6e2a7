package takopi

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/width"
)

// FileChangeEntry describes one file touched by a file_change action.
// Engines populate Action.Detail["files"] with a []FileChangeEntry.
type FileChangeEntry struct {
	Kind string // "created", "modified", "deleted", …
	Path string
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithMaxActions sets the bounded deque size for recent action lines
// (default 5, per spec.md §4.6).
func WithMaxActions(n int) RendererOption {
	return func(r *Renderer) { r.maxActions = n }
}

// WithCommandWidth truncates rendered command lines to n display columns.
// Zero (the default) disables truncation.
func WithCommandWidth(n int) RendererOption {
	return func(r *Renderer) { r.commandWidth = n }
}

// WithCWD sets the working directory used to render file_change paths
// relative when they fall inside it.
func WithCWD(cwd string) RendererOption {
	return func(r *Renderer) { r.cwd = cwd }
}

// Renderer is a stateful fold over an Event stream that produces a bounded,
// deduplicated, paint-efficient chat message body. Grounded on
// original_source's ExecProgressRenderer (exec_render.py): a deque of
// rendered lines keyed by action id so a repeated ActionStarted/Completed
// pair updates in place instead of growing the body without bound.
type Renderer struct {
	maxActions   int
	commandWidth int
	cwd          string

	actionCount  int
	recentLines  []string       // bounded deque, oldest first
	recentIDs    []string       // parallel slice: action id owning recentLines[i], "" if none
	seenSlot     map[string]int // action id -> index into recentLines/recentIDs
	lastResume   *ResumeToken
	lastTitle    string
}

// NewRenderer constructs a Renderer with spec defaults (max 5 recent lines,
// no command truncation, no cwd-relative path rendering).
func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{maxActions: 5, seenSlot: make(map[string]int)}
	for _, o := range opts {
		o(r)
	}
	if r.maxActions <= 0 {
		r.maxActions = 5
	}
	return r
}

// Apply folds one Event into the renderer's state and reports whether the
// state changed (the orchestrator uses this to decide whether an edit is
// due). Completed events are ignored by the fold; the orchestrator uses
// them only to switch to the final render.
func (r *Renderer) Apply(ev Event) bool {
	switch ev.Kind {
	case EventSessionStarted:
		r.lastResume = &ResumeToken{Engine: ev.Resume.Engine, Value: ev.Resume.Value}
		r.lastTitle = ev.Title
		return true

	case EventActionStarted:
		line := r.renderLine(ev.Action, "started", true, "")
		r.upsert(ev.Action.ID, line)
		return true

	case EventActionCompleted:
		line := r.renderLine(ev.Action, "completed", ev.ActionOK, ev.ActionMessage)
		r.upsert(ev.Action.ID, line)
		return true

	case EventCompleted:
		return false

	default:
		return false
	}
}

// upsert replaces the rendered line for id if it is still resident
// (preserving position, not bumping actionCount), otherwise appends a new
// line, bumping actionCount and evicting the oldest entry once full.
func (r *Renderer) upsert(id, line string) {
	if id != "" {
		if idx, ok := r.seenSlot[id]; ok && idx >= 0 && idx < len(r.recentLines) && r.recentIDs[idx] == id {
			r.recentLines[idx] = line
			return
		}
	}

	r.actionCount++
	r.recentLines = append(r.recentLines, line)
	r.recentIDs = append(r.recentIDs, id)
	if id != "" {
		r.seenSlot[id] = len(r.recentLines) - 1
	}

	if len(r.recentLines) > r.maxActions {
		evictedID := r.recentIDs[0]
		r.recentLines = r.recentLines[1:]
		r.recentIDs = r.recentIDs[1:]
		if evictedID != "" {
			delete(r.seenSlot, evictedID)
		}
		for id2, idx := range r.seenSlot {
			r.seenSlot[id2] = idx - 1
		}
	}
}

// renderLine dispatches to a kind-specific line format. phase is
// "started" or "completed"; message carries ActionCompleted.ActionMessage
// (used for note/warning titles when Action.Title is empty).
func (r *Renderer) renderLine(a Action, phase string, ok bool, message string) string {
	switch a.Kind {
	case ActionKindCommand:
		cmd := r.truncateCommand(fmt.Sprint(a.Detail["command"]))
		if phase == "started" {
			return "▸ `" + cmd + "`"
		}
		if ok {
			return "✓ `" + cmd + "`"
		}
		code := a.Detail["exit_code"]
		return fmt.Sprintf("✗ `%s` (exit %v)", cmd, code)

	case ActionKindTool:
		label := toolLabel(a)
		switch phase {
		case "started":
			return "▸ " + label
		default:
			if ok {
				return "✓ " + label
			}
			return "✗ " + label
		}

	case ActionKindWebSearch:
		query, _ := a.Detail["query"].(string)
		line := "searched: " + query
		switch phase {
		case "started":
			return "▸ " + line
		default:
			if ok {
				return "✓ " + line
			}
			return "✗ " + line
		}

	case ActionKindFileChange:
		line := "files: " + r.renderFileChanges(a)
		switch phase {
		case "started":
			return "▸ " + line
		default:
			if ok {
				return "✓ " + line
			}
			return "✗ " + line
		}

	case ActionKindNote, ActionKindWarning:
		title := a.Title
		if title == "" {
			title = message
		}
		if phase == "started" {
			return "▸ " + title
		}
		if ok {
			return "✓ " + title
		}
		return "✗ " + title

	default:
		title := a.Title
		if title == "" {
			title = a.Kind
		}
		return "tool: " + title
	}
}

// toolLabel resolves the Open Question per original_source's exec_render.py
// handling of mcp_tool_call: "tool call: {server}.{tool}" when both fields are
// known, falling back to "tool: {title}".
func toolLabel(a Action) string {
	server, _ := a.Detail["server"].(string)
	tool, _ := a.Detail["tool"].(string)
	if server != "" && tool != "" {
		return "tool call: " + server + "." + tool
	}
	return "tool: " + a.Title
}

func (r *Renderer) renderFileChanges(a Action) string {
	entries, _ := a.Detail["files"].([]FileChangeEntry)
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s `%s`", e.Kind, r.relativizePath(e.Path)))
	}
	return strings.Join(parts, ", ")
}

// relativizePath renders p relative to cwd when p is absolute and lies
// syntactically inside cwd; otherwise p is left verbatim (per spec.md §4.6).
func (r *Renderer) relativizePath(p string) string {
	if r.cwd == "" || !filepath.IsAbs(p) {
		return p
	}
	rel, err := filepath.Rel(r.cwd, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return p
	}
	return rel
}

// truncateCommand truncates s to r.commandWidth display columns, counting
// East-Asian wide/fullwidth runes as two columns (golang.org/x/text/width),
// so a truncated command never splits a multi-byte rune and reports an
// honest column budget for CJK content. No-op when commandWidth is unset.
func (r *Renderer) truncateCommand(s string) string {
	if r.commandWidth <= 0 {
		return s
	}
	var b strings.Builder
	col := 0
	for _, ru := range s {
		w := 1
		switch width.LookupRune(ru).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			w = 2
		}
		if col+w > r.commandWidth {
			b.WriteString("…")
			return b.String()
		}
		b.WriteRune(ru)
		col += w
	}
	return b.String()
}

// RenderProgress renders the periodic "working…" body (spec.md §4.6).
func (r *Renderer) RenderProgress(elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "working · %ds · step %d\n", int(elapsed.Seconds()), r.actionCount)
	b.WriteString(strings.Join(r.recentLines, "\n"))
	if hint := r.resumeHint(); hint != "" {
		if len(r.recentLines) > 0 {
			b.WriteString("\n")
		}
		b.WriteString(hint)
	}
	return b.String()
}

// RenderFinal renders the terminal body: header, blank line, answer, blank
// line, resume hint (spec.md §4.6). status is "done" or "error".
func (r *Renderer) RenderFinal(elapsed time.Duration, answer, status string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s · %ds · step %d\n\n%s", status, int(elapsed.Seconds()), r.actionCount, answer)
	if hint := r.resumeHint(); hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	return b.String()
}

func (r *Renderer) resumeHint() string {
	if r.lastResume == nil {
		return ""
	}
	return "resume: " + FormatResume(*r.lastResume)
}

// FormatResume renders a ResumeToken as "{engine}:{value}" for display and
// for round-tripping through ExtractResume.
func FormatResume(t ResumeToken) string {
	return string(t.Engine) + ":" + t.Value
}

// ExtractResume parses the "{engine}:{value}" format produced by
// FormatResume. The value may itself contain colons; engine never does.
func ExtractResume(s string) (ResumeToken, bool) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return ResumeToken{}, false
	}
	return ResumeToken{Engine: EngineId(s[:idx]), Value: s[idx+1:]}, true
}
