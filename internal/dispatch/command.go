package dispatch

import (
	"encoding/json"

	"github.com/wdonsong/huntly/internal/library"
	"github.com/wdonsong/huntly/internal/stream"
)

// CommandType discriminates the inbound command union.
type CommandType string

const (
	CmdProcess       CommandType = "process"
	CmdCancel        CommandType = "cancel"
	CmdToolbarData   CommandType = "fetch_ai_toolbar_data"
	CmdShortcuts     CommandType = "fetch_shortcuts"
	CmdPresenceCheck CommandType = "presence_check"
	CmdBadgeRefresh  CommandType = "badge_refresh"
	CmdOpenTab       CommandType = "open_tab"
	CmdProxyRequest  CommandType = "proxy_request"
	CmdSaveAndOpen   CommandType = "save_and_open"
)

// Command is one inbound message from a tab. Fields are populated per type;
// unknown fields for a type are ignored.
type Command struct {
	Type CommandType `json:"type"`

	// process / cancel
	TaskID      string      `json:"task_id,omitempty"`
	Backend     stream.Kind `json:"backend,omitempty"`
	Title       string      `json:"title,omitempty"`
	Content     string      `json:"content,omitempty"`
	URL         string      `json:"url,omitempty"`
	ShortcutID  string      `json:"shortcut_id,omitempty"`
	Instruction string      `json:"instruction,omitempty"`
	Provider    string      `json:"provider,omitempty"`
	Model       string      `json:"model,omitempty"`
	SkipPreview bool        `json:"skip_preview,omitempty"`

	// presence_check / badge_refresh
	Force bool `json:"force,omitempty"`

	// proxy_request
	Method string          `json:"method,omitempty"`
	Path   string          `json:"path,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`

	// save_and_open
	Item *library.SaveRequest `json:"item,omitempty"`
}

// ProcessAccepted is the reply to an accepted process command.
type ProcessAccepted struct {
	TaskID string `json:"task_id"`
}

// CancelResult reports whether a cancel found a live task.
type CancelResult struct {
	Cancelled bool `json:"cancelled"`
}

// PresenceResult is the reply to a presence check.
type PresenceResult struct {
	State string `json:"state"`
}

// ProxyReply carries a passthrough response back to the tab.
type ProxyReply struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// SaveAndOpenResult is the merged outcome of the save-and-open composite.
type SaveAndOpenResult struct {
	Page        library.Page         `json:"page"`
	Placement   library.Placement    `json:"placement"`
	Collections []library.Collection `json:"collections"`
}

// StepError is the typed failure of a composite command, naming the first
// step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return e.Step + ": " + e.Err.Error()
}

func (e *StepError) Unwrap() error {
	return e.Err
}
