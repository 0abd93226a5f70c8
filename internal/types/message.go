package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

const (
	TypeChat          = "chat"
	TypeStatusUpdate  = "status_update"
	TypeSystemCommand = "system_command"
	TypeLaunchAgent   = "launch_agent"
	TypeActivateRelay = "activate_relay"
	TypeJSLog         = "js_log"
)

// CommandShutdown is the content of a system_command that stops the manager.
const CommandShutdown = "shutdown"

// SystemAgentID is the sender of messages synthesized by the relay itself.
const SystemAgentID = "System"

var ErrEmptyLine = errors.New("empty message line")

// Message is one frame of the relay protocol. Every field may be absent on
// the wire; Content is either a string or a decoded JSON object.
type Message struct {
	AgentID   string         `json:"agent_id"`
	Content   any            `json:"content"`
	Direction string         `json:"direction"`
	Timestamp string         `json:"timestamp"`
	MsgID     string         `json:"msg_id,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

type LaunchAgent struct {
	AgentID string `json:"agent_id"`
	URL     string `json:"url"`
}

type ActivateRelay struct {
	AgentID string `json:"agent_id"`
}

// StatusMap maps an agent ID to its (state, color) pair.
type StatusMap map[string][2]string

func NewMessage(agentID string, content any, direction string, msgType string) *Message {
	if msgType == "" {
		msgType = TypeChat
	}
	return &Message{
		AgentID:   agentID,
		Content:   content,
		Direction: direction,
		Timestamp: time.Now().Format(time.RFC3339Nano),
		MsgID:     uuid.NewString(),
		Metadata:  map[string]any{"type": msgType},
	}
}

func NewStatusMessage(statuses StatusMap) *Message {
	content := make(map[string]any, len(statuses))
	for id, pair := range statuses {
		content[id] = []any{pair[0], pair[1]}
	}
	return NewMessage(SystemAgentID, content, DirectionIncoming, TypeStatusUpdate)
}

func (m *Message) Type() string {
	if m == nil || m.Metadata == nil {
		return TypeChat
	}
	if t, ok := m.Metadata["type"].(string); ok && t != "" {
		return t
	}
	return TypeChat
}

// ContentString returns the content when it is a plain string.
func (m *Message) ContentString() (string, bool) {
	s, ok := m.Content.(string)
	return s, ok
}

// DecodeContent re-decodes Content into v.
func (m *Message) DecodeContent(v any) error {
	b, err := json.Marshal(m.Content)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Statuses decodes a status_update content into a StatusMap, skipping
// entries that are not two-element arrays of strings.
func (m *Message) Statuses() StatusMap {
	raw, ok := m.Content.(map[string]any)
	if !ok {
		return StatusMap{}
	}
	out := make(StatusMap, len(raw))
	for id, v := range raw {
		pair, ok := v.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		state, _ := pair[0].(string)
		color, _ := pair[1].(string)
		out[id] = [2]string{state, color}
	}
	return out
}

// EncodeLine returns the JSON encoding of m terminated by a newline.
func EncodeLine(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return append(b, '\n'), nil
}

// DecodeLine parses one frame. Surrounding whitespace is ignored.
func DecodeLine(line []byte) (*Message, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, ErrEmptyLine
	}
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}
