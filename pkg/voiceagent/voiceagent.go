// Package voiceagent defines the client-facing message vocabulary of the
// proxy: the JSON control messages a voice-agent client exchanges with the
// server, plus raw binary PCM audio frames which carry no JSON envelope.
//
// Every JSON message is discriminated by a top-level "type" field.
// [ParseClientMessage] decodes one client frame into its typed struct;
// server-bound messages are plain structs marshalled by the session writer.
package voiceagent

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client → server message types.
const (
	TypeSettings             = "Settings"
	TypeInjectUserMessage    = "InjectUserMessage"
	TypeInjectAgentMessage   = "InjectAgentMessage"
	TypeUpdatePrompt         = "UpdatePrompt"
	TypeUpdateSpeak          = "UpdateSpeak"
	TypeFunctionCallResponse = "FunctionCallResponse"
	TypeKeepAlive            = "KeepAlive"
	TypeCloseStream          = "CloseStream"
)

// Server → client message types.
const (
	TypeWelcome              = "Welcome"
	TypeSettingsApplied      = "SettingsApplied"
	TypeConversationText     = "ConversationText"
	TypeUserStartedSpeaking  = "UserStartedSpeaking"
	TypeUserStoppedSpeaking  = "UserStoppedSpeaking"
	TypeUtteranceEnd         = "UtteranceEnd"
	TypeAgentThinking        = "AgentThinking"
	TypeAgentStartedSpeaking = "AgentStartedSpeaking"
	TypeAgentAudioDone       = "AgentAudioDone"
	TypeFunctionCallRequest  = "FunctionCallRequest"
	TypeError                = "Error"
	TypeWarning              = "Warning"
)

// ErrUnknownType is returned by [ParseClientMessage] when the "type" field
// does not name a recognised client message. Callers treat this as a
// droppable translation warning, not a session-fatal condition.
var ErrUnknownType = errors.New("voiceagent: unknown message type")

// ── Client → server messages ──────────────────────────────────────────────────

// Settings configures the session: audio formats, agent behaviour, optional
// greeting and conversation history. It must be the first control message of
// every session.
type Settings struct {
	Type  string      `json:"type"`
	Audio AudioConfig `json:"audio,omitempty"`
	Agent AgentConfig `json:"agent,omitempty"`
}

// AudioConfig declares the audio encoding on both legs of the session.
type AudioConfig struct {
	Input  *AudioFormat `json:"input,omitempty"`
	Output *AudioFormat `json:"output,omitempty"`
}

// AudioFormat names an encoding and sample rate for one audio direction.
type AudioFormat struct {
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// AgentConfig holds the conversational configuration of the session.
type AgentConfig struct {
	Language string        `json:"language,omitempty"`
	Listen   *ListenConfig `json:"listen,omitempty"`
	Think    ThinkConfig   `json:"think"`
	Speak    SpeakConfig   `json:"speak,omitempty"`
	Greeting string        `json:"greeting,omitempty"`
	Context  *Context      `json:"context,omitempty"`
}

// ListenConfig selects the speech-recognition provider. The proxy forwards
// audio to an end-to-end speech model, so this block is accepted for client
// compatibility but carries no upstream mapping.
type ListenConfig struct {
	Provider ProviderRef `json:"provider,omitempty"`
}

// ThinkConfig selects the reasoning model, its system prompt, and the
// function definitions offered to it.
type ThinkConfig struct {
	Provider  ProviderRef   `json:"provider,omitempty"`
	Prompt    string        `json:"prompt,omitempty"`
	Functions []FunctionDef `json:"functions,omitempty"`
}

// SpeakConfig selects the synthesis voice. For realtime upstream providers
// the provider model doubles as the voice name.
type SpeakConfig struct {
	Provider ProviderRef `json:"provider,omitempty"`
}

// ProviderRef names a provider and model inside a Settings block.
type ProviderRef struct {
	Type  string `json:"type,omitempty"`
	Model string `json:"model,omitempty"`
}

// FunctionDef describes one callable function offered to the agent.
// ClientSide marks functions the client executes itself; the flag is
// meaningful only on this side of the proxy and is stripped before any
// upstream forwarding.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	ClientSide  bool           `json:"client_side,omitempty"`
}

// Context carries prior conversation turns to replay into the new session.
type Context struct {
	Messages []HistoryMessage `json:"messages,omitempty"`
	Replay   bool             `json:"replay,omitempty"`
}

// HistoryMessage is one prior conversation turn. Role is "user" or
// "assistant".
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InjectUserMessage asks the agent to respond to a typed user message.
type InjectUserMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// InjectAgentMessage inserts an assistant utterance into the conversation
// without triggering a response.
type InjectAgentMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// UpdatePrompt replaces the agent's system prompt mid-session.
type UpdatePrompt struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// UpdateSpeak replaces the synthesis voice mid-session.
type UpdateSpeak struct {
	Type  string      `json:"type"`
	Speak SpeakConfig `json:"speak"`
}

// FunctionCallResponse returns the result of a client-executed function
// call previously requested via [FunctionCallRequest].
type FunctionCallResponse struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content"`
}

// KeepAlive is a client liveness signal. The proxy does not need it to keep
// either socket open and treats it as a no-op.
type KeepAlive struct {
	Type string `json:"type"`
}

// CloseStream requests an orderly end of the session.
type CloseStream struct {
	Type string `json:"type"`
}

// ── Server → client messages ──────────────────────────────────────────────────

// Welcome is the first message of a session, carrying a request id derived
// from the upstream session id.
type Welcome struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

// SettingsApplied signals that the most recent Settings message is active.
// The client must observe it before its first user message is processed.
type SettingsApplied struct {
	Type string `json:"type"`
}

// ConversationText carries one utterance of the conversation, from either
// role, for display.
type ConversationText struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserStartedSpeaking signals upstream speech-start detection.
type UserStartedSpeaking struct {
	Type string `json:"type"`
}

// UserStoppedSpeaking signals upstream speech-stop detection. Timestamp is
// the detection offset in seconds from session start, when known.
type UserStoppedSpeaking struct {
	Type      string   `json:"type"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// UtteranceEnd marks the end of a user utterance with the end time of its
// last word, in seconds.
type UtteranceEnd struct {
	Type        string  `json:"type"`
	Channel     []int   `json:"channel"`
	LastWordEnd float64 `json:"last_word_end"`
}

// AgentThinking signals that a model response has started generating.
type AgentThinking struct {
	Type string `json:"type"`
}

// AgentStartedSpeaking signals the first audio of a model response. Emitted
// at most once per response.
type AgentStartedSpeaking struct {
	Type string `json:"type"`
}

// AgentAudioDone signals that the audio of the current response is complete.
type AgentAudioDone struct {
	Type string `json:"type"`
}

// FunctionCallRequest asks the client to execute one or more functions and
// return their results via [FunctionCallResponse].
type FunctionCallRequest struct {
	Type      string         `json:"type"`
	Functions []FunctionCall `json:"functions"`
}

// FunctionCall is one function invocation inside a [FunctionCallRequest].
// Arguments is the raw JSON-encoded argument object.
type FunctionCall struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	ClientSide bool   `json:"client_side,omitempty"`
}

// Error reports a session-fatal condition. The socket closes after it.
type Error struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Code        string `json:"code,omitempty"`
}

// Warning reports a recoverable condition. The session continues.
type Warning struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Code        string `json:"code,omitempty"`
}

// ── Parsing ───────────────────────────────────────────────────────────────────

// typeProbe extracts only the discriminator field.
type typeProbe struct {
	Type string `json:"type"`
}

// ParseClientMessage decodes one client JSON frame into its typed struct.
// The returned value is a pointer to one of the client → server message
// types. Unrecognised types return [ErrUnknownType]; malformed JSON returns
// a wrapped decoding error.
func ParseClientMessage(data []byte) (any, error) {
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("voiceagent: decode frame: %w", err)
	}

	var msg any
	switch probe.Type {
	case TypeSettings:
		msg = &Settings{}
	case TypeInjectUserMessage:
		msg = &InjectUserMessage{}
	case TypeInjectAgentMessage:
		msg = &InjectAgentMessage{}
	case TypeUpdatePrompt:
		msg = &UpdatePrompt{}
	case TypeUpdateSpeak:
		msg = &UpdateSpeak{}
	case TypeFunctionCallResponse:
		msg = &FunctionCallResponse{}
	case TypeKeepAlive:
		msg = &KeepAlive{}
	case TypeCloseStream:
		msg = &CloseStream{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("voiceagent: decode %s: %w", probe.Type, err)
	}
	return msg, nil
}
