// Package chat runs a model conversation and executes the tool calls the
// model writes into its replies.
package chat

import (
	"context"
	"log"

	"codebox-relay/internal/toolcall"
)

type EventKind string

const (
	EventText       EventKind = "text"
	EventToolResult EventKind = "tool_result"
	EventFollowup   EventKind = "ai_followup"
	EventError      EventKind = "error"
)

type Event struct {
	Kind EventKind     `json:"kind"`
	Text string        `json:"text"`
	Tool string        `json:"tool,omitempty"`
	Code toolcall.Code `json:"code,omitempty"`
}

// Processor forwards user text to a Session and runs the tool calls found in
// the replies. History is optional.
type Processor struct {
	Session  Session
	Registry *toolcall.Registry
	History  *History
}

// Ask sends user text and processes the reply.
func (p *Processor) Ask(ctx context.Context, text string) []Event {
	p.record(RoleUser, text)
	reply, err := p.Session.Send(ctx, text)
	if err != nil {
		log.Printf("chat: send failed: %v", err)
		return []Event{{Kind: EventError, Text: err.Error()}}
	}
	return p.Process(ctx, reply)
}

// Process emits reply, then dispatches each TOOL_ACTION call in it and feeds
// the result back to the session. Follow-up replies are reported but not
// scanned for further tool calls.
func (p *Processor) Process(ctx context.Context, reply string) []Event {
	p.record(RoleModel, reply)
	events := []Event{{Kind: EventText, Text: reply}}

	for _, a := range toolcall.ParseAll(reply) {
		res := p.Registry.Dispatch(ctx, a)
		log.Printf("chat: tool %s -> %s (%s)", a.Name, res.Code, res.Duration)
		events = append(events, Event{Kind: EventToolResult, Text: res.Output, Tool: a.Name, Code: res.Code})

		feedback := toolcall.FormatResult(a.Name, res.Output)
		p.record(RoleTool, feedback)
		followup, err := p.Session.Send(ctx, feedback)
		if err != nil {
			log.Printf("chat: tool result feedback failed: %v", err)
			events = append(events, Event{Kind: EventError, Text: err.Error(), Tool: a.Name})
			continue
		}
		p.record(RoleModel, followup)
		events = append(events, Event{Kind: EventFollowup, Text: followup, Tool: a.Name})
	}
	return events
}

func (p *Processor) record(role string, text string) {
	if p.History != nil {
		p.History.Append(role, text)
	}
}
