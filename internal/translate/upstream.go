package translate

import (
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/realtimeapi"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/voiceagent"
)

// Emission is one client-bound output of the upstream mapper: either a JSON
// message (Msg non-nil) or a raw binary audio frame (Audio non-nil).
type Emission struct {
	Msg   any
	Audio []byte
}

func jsonEmission(msg any) Emission     { return Emission{Msg: msg} }
func audioEmission(pcm []byte) Emission { return Emission{Audio: pcm} }

// Upstream maps provider server events to ordered client emissions. It
// carries the per-response state the mapping needs: whether the current
// response has already produced an AgentStartedSpeaking and AgentAudioDone,
// and the transcript captured for function-call ordering. State resets on
// each response.created.
//
// Session-lifecycle events (session.updated acknowledgements,
// conversation.item.added releases, error classification) are the session's
// concern and produce no emissions here.
//
// Known limitation: when the provider describes a function call only inside
// an audio transcript ("Function call: …") and never emits
// response.function_call_arguments.done, the client receives only the
// ConversationText and no FunctionCallRequest.
type Upstream struct {
	startedSpeaking bool
	audioDone       bool
	sawAudio        bool
	transcript      string
}

// Map translates one server event into zero or more client emissions, in
// the order the client must observe them.
func (u *Upstream) Map(ev *realtimeapi.ServerEvent) []Emission {
	switch ev.Type {
	case realtimeapi.TypeSessionCreated:
		requestID := ""
		if ev.Session != nil {
			requestID = ev.Session.ID
		}
		return []Emission{jsonEmission(voiceagent.Welcome{
			Type:      voiceagent.TypeWelcome,
			RequestID: requestID,
		})}

	case realtimeapi.TypeResponseCreated:
		u.startedSpeaking = false
		u.audioDone = false
		u.sawAudio = false
		u.transcript = ""
		return []Emission{jsonEmission(voiceagent.AgentThinking{Type: voiceagent.TypeAgentThinking})}

	case realtimeapi.TypeContentPartAdded:
		return u.markSpeaking()

	case realtimeapi.TypeOutputAudioDelta:
		pcm, err := ev.DecodeAudioDelta()
		if err != nil || len(pcm) == 0 {
			return nil
		}
		u.sawAudio = true
		out := u.markSpeaking()
		return append(out, audioEmission(pcm))

	case realtimeapi.TypeOutputAudioDone:
		return u.markAudioDone()

	case realtimeapi.TypeResponseDone:
		// response.done closes out an audio response when no explicit
		// output_audio.done preceded it.
		if u.sawAudio {
			return u.markAudioDone()
		}
		return nil

	case realtimeapi.TypeOutputTextDone:
		if ev.Text == "" {
			return nil
		}
		return []Emission{jsonEmission(voiceagent.ConversationText{
			Type:    voiceagent.TypeConversationText,
			Role:    "assistant",
			Content: ev.Text,
		})}

	case realtimeapi.TypeOutputTranscriptDone:
		if ev.Transcript == "" {
			return nil
		}
		u.transcript = ev.Transcript
		return []Emission{jsonEmission(voiceagent.ConversationText{
			Type:    voiceagent.TypeConversationText,
			Role:    "assistant",
			Content: ev.Transcript,
		})}

	case realtimeapi.TypeFunctionArgumentsDone:
		out := []Emission{jsonEmission(voiceagent.FunctionCallRequest{
			Type: voiceagent.TypeFunctionCallRequest,
			Functions: []voiceagent.FunctionCall{{
				ID:        ev.CallID,
				Name:      ev.Name,
				Arguments: ev.Arguments,
			}},
		})}
		// A transcript captured earlier in this response follows the request
		// so the client has both a display string and a handler invocation.
		if u.transcript != "" {
			out = append(out, jsonEmission(voiceagent.ConversationText{
				Type:    voiceagent.TypeConversationText,
				Role:    "assistant",
				Content: u.transcript,
			}))
		}
		return out

	case realtimeapi.TypeSpeechStarted:
		return []Emission{jsonEmission(voiceagent.UserStartedSpeaking{Type: voiceagent.TypeUserStartedSpeaking})}

	case realtimeapi.TypeSpeechStopped:
		seconds := float64(ev.AudioEndMs) / 1000
		return []Emission{
			jsonEmission(voiceagent.UserStoppedSpeaking{
				Type:      voiceagent.TypeUserStoppedSpeaking,
				Timestamp: &seconds,
			}),
			jsonEmission(voiceagent.UtteranceEnd{
				Type:        voiceagent.TypeUtteranceEnd,
				Channel:     []int{0},
				LastWordEnd: seconds,
			}),
		}
	}

	// Deltas for text and transcript are buffered by the provider's .done
	// events; lifecycle events are the session's job. Nothing to emit.
	return nil
}

// markSpeaking emits AgentStartedSpeaking once per response.
func (u *Upstream) markSpeaking() []Emission {
	if u.startedSpeaking {
		return nil
	}
	u.startedSpeaking = true
	return []Emission{jsonEmission(voiceagent.AgentStartedSpeaking{Type: voiceagent.TypeAgentStartedSpeaking})}
}

// markAudioDone emits AgentAudioDone once per response.
func (u *Upstream) markAudioDone() []Emission {
	if u.audioDone {
		return nil
	}
	u.audioDone = true
	return []Emission{jsonEmission(voiceagent.AgentAudioDone{Type: voiceagent.TypeAgentAudioDone})}
}
