// Package translate holds the pure mapping layer between the two protocols:
// client control messages into upstream Realtime events, and upstream server
// events into client messages. Functions here perform no I/O; the session
// decides when and where the produced events are written.
package translate

import (
	"fmt"

	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/realtimeapi"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/voiceagent"
)

// Audio formats the upstream provider speaks. The client leg declares its
// own PCM encoding in Settings.audio; on the wire to the provider everything
// is pcm16.
const (
	inputAudioFormat  = "pcm16"
	outputAudioFormat = "pcm16"
)

// SessionParams flattens a Settings message into the upstream session block:
// instructions from the think prompt, tools from the function list with the
// client_side flag stripped, voice from the speak provider model.
func SessionParams(s *voiceagent.Settings) realtimeapi.SessionParams {
	return realtimeapi.SessionParams{
		Voice:             s.Agent.Speak.Provider.Model,
		Instructions:      s.Agent.Think.Prompt,
		Tools:             Tools(s.Agent.Think.Functions),
		InputAudioFormat:  inputAudioFormat,
		OutputAudioFormat: outputAudioFormat,
	}
}

// Tools converts client function definitions to the upstream tool format.
// The client-only client_side attribute is dropped: the provider rejects
// unknown fields. An empty or nil input yields nil so the tools field is
// omitted from the session block entirely.
func Tools(fns []voiceagent.FunctionDef) []realtimeapi.Tool {
	if len(fns) == 0 {
		return nil
	}
	out := make([]realtimeapi.Tool, len(fns))
	for i, fn := range fns {
		out[i] = realtimeapi.Tool{
			Type:        "function",
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		}
	}
	return out
}

// UserMessageItem builds the upstream item for an injected user message.
func UserMessageItem(content string) realtimeapi.ConversationItemCreate {
	return realtimeapi.NewMessageItem("user", content)
}

// AgentMessageItem builds the upstream item for an injected assistant
// message.
func AgentMessageItem(content string) realtimeapi.ConversationItemCreate {
	return realtimeapi.NewMessageItem("assistant", content)
}

// HistoryItem builds the upstream item for one replayed history message.
// Assistant turns must carry output_text content; user turns input_text.
// Roles other than user and assistant are rejected rather than coerced so a
// malformed history surfaces before anything reaches the provider.
func HistoryItem(msg voiceagent.HistoryMessage) (realtimeapi.ConversationItemCreate, error) {
	switch msg.Role {
	case "user", "assistant":
		return realtimeapi.NewMessageItem(msg.Role, msg.Content), nil
	default:
		return realtimeapi.ConversationItemCreate{}, fmt.Errorf("translate: history role %q is not user or assistant", msg.Role)
	}
}

// FunctionOutputItem builds the upstream item returning a client-executed
// function result. The session must follow it with a response.create.
func FunctionOutputItem(resp *voiceagent.FunctionCallResponse) realtimeapi.ConversationItemCreate {
	return realtimeapi.NewFunctionOutputItem(resp.ID, resp.Content)
}
