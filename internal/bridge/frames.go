package bridge

import (
	"encoding/json"

	"github.com/wdonsong/huntly/internal/dispatch"
)

const protocolVersion = 1

// Frame types spoken over the tab socket. Tabs send hello, command, and ack;
// the daemon sends welcome, reply, message, and request.
const (
	frameHello   = "hello"
	frameWelcome = "welcome"
	frameCommand = "command"
	frameReply   = "reply"
	frameMessage = "message"
	frameRequest = "request"
	frameAck     = "ack"
)

// inboundFrame is the union of everything a tab may send after the upgrade.
type inboundFrame struct {
	Type    string            `json:"type"`
	ID      string            `json:"id,omitempty"`
	TabID   string            `json:"tab_id,omitempty"`
	Token   string            `json:"token,omitempty"`
	Client  string            `json:"client,omitempty"`
	Version int               `json:"version,omitempty"`
	Command *dispatch.Command `json:"command,omitempty"`
	OK      bool              `json:"ok,omitempty"`
	Error   string            `json:"error,omitempty"`
}

type welcomeFrame struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
}

type replyFrame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type messageFrame struct {
	Type    string           `json:"type"`
	Message dispatch.Message `json:"message"`
}

type requestFrame struct {
	Type    string           `json:"type"`
	ID      string           `json:"id"`
	Message dispatch.Message `json:"message"`
}
