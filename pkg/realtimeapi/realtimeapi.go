// Package realtimeapi defines the upstream Realtime protocol: the
// client-side events the proxy sends to the speech provider and the
// server-side events it receives back.
//
// All events are JSON with a "type" discriminator. Audio payloads are
// base64-encoded PCM16 inside JSON string fields. Server events are decoded
// into a single [ServerEvent] struct whose optional fields are populated per
// event type, mirroring how the provider multiplexes many event shapes over
// one stream.
package realtimeapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Client-side (proxy → provider) event types.
const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
	TypeInputAudioAppend       = "input_audio_buffer.append"
	TypeInputAudioCommit       = "input_audio_buffer.commit"
)

// Server-side (provider → proxy) event types.
const (
	TypeSessionCreated         = "session.created"
	TypeSessionUpdated         = "session.updated"
	TypeConversationItemAdded  = "conversation.item.added"
	TypeConversationItemDone   = "conversation.item.done"
	TypeResponseCreated        = "response.created"
	TypeResponseDone           = "response.done"
	TypeOutputTextDelta        = "response.output_text.delta"
	TypeOutputTextDone         = "response.output_text.done"
	TypeOutputAudioDelta       = "response.output_audio.delta"
	TypeOutputAudioDone        = "response.output_audio.done"
	TypeOutputTranscriptDelta  = "response.output_audio_transcript.delta"
	TypeOutputTranscriptDone   = "response.output_audio_transcript.done"
	TypeFunctionArgumentsDelta = "response.function_call_arguments.delta"
	TypeFunctionArgumentsDone  = "response.function_call_arguments.done"
	TypeContentPartAdded       = "response.content_part.added"
	TypeSpeechStarted          = "input_audio_buffer.speech_started"
	TypeSpeechStopped          = "input_audio_buffer.speech_stopped"
	TypeError                  = "error"
)

// Conversation content-part types. User and system items carry input text;
// assistant items must carry output text — the provider rejects an
// assistant item with an input_text part.
const (
	ContentInputText  = "input_text"
	ContentOutputText = "output_text"
)

// Conversation item types.
const (
	ItemMessage            = "message"
	ItemFunctionCallOutput = "function_call_output"
)

// ── Client-side events ────────────────────────────────────────────────────────

// SessionUpdate configures voice, instructions, tools and audio formats.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionParams `json:"session"`
}

// SessionParams is the session block of a [SessionUpdate].
type SessionParams struct {
	Voice             string `json:"voice,omitempty"`
	Instructions      string `json:"instructions,omitempty"`
	Tools             []Tool `json:"tools,omitempty"`
	InputAudioFormat  string `json:"input_audio_format"`
	OutputAudioFormat string `json:"output_audio_format"`
}

// Tool is a function definition in the provider's vocabulary. The provider
// rejects unknown fields, so this struct is the complete forwardable shape.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// NewSessionUpdate wraps params in a session.update envelope.
func NewSessionUpdate(params SessionParams) SessionUpdate {
	return SessionUpdate{Type: TypeSessionUpdate, Session: params}
}

// ConversationItemCreate inserts one item into the conversation.
type ConversationItemCreate struct {
	Type string           `json:"type"`
	Item ConversationItem `json:"item"`
}

// ConversationItem is a message or function-call-output item.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ContentPart is one text part of a message item.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewMessageItem builds a conversation.item.create for a text message with
// the role-appropriate content-part type: assistant items use output text,
// every other role uses input text.
func NewMessageItem(role, text string) ConversationItemCreate {
	partType := ContentInputText
	if role == "assistant" {
		partType = ContentOutputText
	}
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:    ItemMessage,
			Role:    role,
			Content: []ContentPart{{Type: partType, Text: text}},
		},
	}
}

// NewFunctionOutputItem builds a conversation.item.create returning a
// function-call result for call id callID.
func NewFunctionOutputItem(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: TypeConversationItemCreate,
		Item: ConversationItem{
			Type:   ItemFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	}
}

// AppendAudio is an input_audio_buffer.append event. Audio is base64 PCM16.
type AppendAudio struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewAppendAudio base64-encodes pcm into an append event.
func NewAppendAudio(pcm []byte) AppendAudio {
	return AppendAudio{
		Type:  TypeInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
}

// Bare is a payload-free client event such as input_audio_buffer.commit or
// response.create.
type Bare struct {
	Type string `json:"type"`
}

// NewCommit builds an input_audio_buffer.commit event.
func NewCommit() Bare { return Bare{Type: TypeInputAudioCommit} }

// NewResponseCreate builds a response.create event.
func NewResponseCreate() Bare { return Bare{Type: TypeResponseCreate} }

// NewResponseCancel builds a response.cancel event.
func NewResponseCancel() Bare { return Bare{Type: TypeResponseCancel} }

// ── Server-side events ────────────────────────────────────────────────────────

// SessionInfo is the session object attached to session.created/updated.
type SessionInfo struct {
	ID string `json:"id,omitempty"`
}

// ItemInfo identifies the conversation item an event refers to.
type ItemInfo struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Role string `json:"role,omitempty"`
}

// ErrorDetail is the nested error object of an error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServerEvent is the decoded form of any provider event. Only the fields
// relevant to the event's Type are populated.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	Session *SessionInfo `json:"session,omitempty"`
	Item    *ItemInfo    `json:"item,omitempty"`

	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	// Streaming payloads: Delta for *.delta events, Text for
	// response.output_text.done, Transcript for
	// response.output_audio_transcript.done.
	Delta      string `json:"delta,omitempty"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// Function-call arguments (response.function_call_arguments.done).
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// Speech boundary offsets (input_audio_buffer.speech_started/stopped),
	// in milliseconds from session start.
	AudioStartMs int64 `json:"audio_start_ms,omitempty"`
	AudioEndMs   int64 `json:"audio_end_ms,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// ParseServerEvent decodes one provider frame. A missing or empty "type" is
// an error; unknown types decode successfully and are the caller's to skip.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	ev := &ServerEvent{}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("realtimeapi: decode event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("realtimeapi: event without type")
	}
	return ev, nil
}

// DecodeAudioDelta returns the raw PCM bytes of a response.output_audio.delta
// event.
func (ev *ServerEvent) DecodeAudioDelta() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		return nil, fmt.Errorf("realtimeapi: decode audio delta: %w", err)
	}
	return pcm, nil
}
