package dispatch

import "github.com/wdonsong/huntly/internal/config"

// MessageType discriminates outbound messages to a tab.
type MessageType string

const (
	MsgProcessingStarted MessageType = "processing_started"
	MsgChunk             MessageType = "chunk"
	MsgResult            MessageType = "result"
	MsgProcessingError   MessageType = "processing_error"
	MsgPreview           MessageType = "preview"
	MsgBadgeState        MessageType = "badge_state"
	MsgOpenTab           MessageType = "open_tab"
)

// DraftItem is the not-yet-saved content shown on the preview surface.
type DraftItem struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
}

// Message is one outbound event to a tab.
type Message struct {
	Type        MessageType       `json:"type"`
	TaskID      string            `json:"task_id,omitempty"`
	Title       string            `json:"title,omitempty"`
	Data        string            `json:"data,omitempty"`
	Accumulated string            `json:"accumulated,omitempty"`
	Content     string            `json:"content,omitempty"`
	Message     string            `json:"message,omitempty"`
	URL         string            `json:"url,omitempty"`
	State       string            `json:"state,omitempty"`
	Shortcuts   []config.Shortcut `json:"shortcuts,omitempty"`
	Draft       *DraftItem        `json:"draft,omitempty"`
}
