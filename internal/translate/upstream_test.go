package translate_test

import (
	"encoding/base64"
	"testing"

	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/translate"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/realtimeapi"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/voiceagent"
)

// feed runs a sequence of events through one mapper and flattens the
// emissions.
func feed(u *translate.Upstream, evs ...*realtimeapi.ServerEvent) []translate.Emission {
	var out []translate.Emission
	for _, ev := range evs {
		out = append(out, u.Map(ev)...)
	}
	return out
}

func msgTypes(ems []translate.Emission) []string {
	var types []string
	for _, em := range ems {
		switch m := em.Msg.(type) {
		case nil:
			types = append(types, "binary")
		case voiceagent.Welcome:
			types = append(types, m.Type)
		case voiceagent.AgentThinking:
			types = append(types, m.Type)
		case voiceagent.AgentStartedSpeaking:
			types = append(types, m.Type)
		case voiceagent.AgentAudioDone:
			types = append(types, m.Type)
		case voiceagent.ConversationText:
			types = append(types, m.Type)
		case voiceagent.FunctionCallRequest:
			types = append(types, m.Type)
		case voiceagent.UserStartedSpeaking:
			types = append(types, m.Type)
		case voiceagent.UserStoppedSpeaking:
			types = append(types, m.Type)
		case voiceagent.UtteranceEnd:
			types = append(types, m.Type)
		default:
			types = append(types, "other")
		}
	}
	return types
}

func equalTypes(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestMap_SessionCreatedEmitsWelcome(t *testing.T) {
	t.Parallel()

	u := &translate.Upstream{}
	ems := u.Map(&realtimeapi.ServerEvent{
		Type:    realtimeapi.TypeSessionCreated,
		Session: &realtimeapi.SessionInfo{ID: "sess_abc"},
	})
	if len(ems) != 1 {
		t.Fatalf("emissions = %d; want 1", len(ems))
	}
	w, ok := ems[0].Msg.(voiceagent.Welcome)
	if !ok {
		t.Fatalf("emission = %T; want Welcome", ems[0].Msg)
	}
	if w.RequestID != "sess_abc" {
		t.Errorf("request_id = %q; want sess_abc", w.RequestID)
	}
}

func TestMap_AudioResponseLifecycle(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4}
	u := &translate.Upstream{}
	ems := feed(u,
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseCreated},
		&realtimeapi.ServerEvent{
			Type:  realtimeapi.TypeOutputAudioDelta,
			Delta: base64.StdEncoding.EncodeToString(pcm),
		},
		&realtimeapi.ServerEvent{
			Type:  realtimeapi.TypeOutputAudioDelta,
			Delta: base64.StdEncoding.EncodeToString(pcm),
		},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeOutputAudioDone},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseDone},
	)

	want := []string{"AgentThinking", "AgentStartedSpeaking", "binary", "binary", "AgentAudioDone"}
	if got := msgTypes(ems); !equalTypes(got, want) {
		t.Errorf("emissions = %v; want %v", got, want)
	}
}

func TestMap_ResponseDoneClosesAudioWithoutExplicitDone(t *testing.T) {
	t.Parallel()

	pcm := base64.StdEncoding.EncodeToString([]byte{9, 9})
	u := &translate.Upstream{}
	ems := feed(u,
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseCreated},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeOutputAudioDelta, Delta: pcm},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseDone},
	)

	want := []string{"AgentThinking", "AgentStartedSpeaking", "binary", "AgentAudioDone"}
	if got := msgTypes(ems); !equalTypes(got, want) {
		t.Errorf("emissions = %v; want %v", got, want)
	}
}

func TestMap_TextOnlyResponseHasNoAudioDone(t *testing.T) {
	t.Parallel()

	u := &translate.Upstream{}
	ems := feed(u,
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseCreated},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeOutputTextDone, Text: "Sure thing."},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseDone},
	)

	want := []string{"AgentThinking", "ConversationText"}
	if got := msgTypes(ems); !equalTypes(got, want) {
		t.Errorf("emissions = %v; want %v", got, want)
	}
	text := ems[1].Msg.(voiceagent.ConversationText)
	if text.Role != "assistant" || text.Content != "Sure thing." {
		t.Errorf("conversation text = %+v", text)
	}
}

func TestMap_SpeakingMarkersEmitOncePerResponse(t *testing.T) {
	t.Parallel()

	pcm := base64.StdEncoding.EncodeToString([]byte{1})
	u := &translate.Upstream{}
	first := feed(u,
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseCreated},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeContentPartAdded},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeOutputAudioDelta, Delta: pcm},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeOutputAudioDone},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseDone},
	)
	want := []string{"AgentThinking", "AgentStartedSpeaking", "binary", "AgentAudioDone"}
	if got := msgTypes(first); !equalTypes(got, want) {
		t.Fatalf("first response = %v; want %v", got, want)
	}

	// A new response resets the once-per-response markers.
	second := feed(u,
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseCreated},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeOutputAudioDelta, Delta: pcm},
	)
	wantSecond := []string{"AgentThinking", "AgentStartedSpeaking", "binary"}
	if got := msgTypes(second); !equalTypes(got, wantSecond) {
		t.Errorf("second response = %v; want %v", got, wantSecond)
	}
}

func TestMap_FunctionCallAfterTranscript(t *testing.T) {
	t.Parallel()

	u := &translate.Upstream{}
	ems := feed(u,
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseCreated},
		&realtimeapi.ServerEvent{
			Type:       realtimeapi.TypeOutputTranscriptDone,
			Transcript: "Let me check the weather.",
		},
		&realtimeapi.ServerEvent{
			Type:      realtimeapi.TypeFunctionArgumentsDone,
			CallID:    "call-1",
			Name:      "get_weather",
			Arguments: `{"city":"Berlin"}`,
		},
	)

	want := []string{"AgentThinking", "ConversationText", "FunctionCallRequest", "ConversationText"}
	if got := msgTypes(ems); !equalTypes(got, want) {
		t.Fatalf("emissions = %v; want %v", got, want)
	}

	req := ems[2].Msg.(voiceagent.FunctionCallRequest)
	if len(req.Functions) != 1 {
		t.Fatalf("functions = %+v", req.Functions)
	}
	fn := req.Functions[0]
	if fn.ID != "call-1" || fn.Name != "get_weather" || fn.Arguments != `{"city":"Berlin"}` {
		t.Errorf("function call = %+v", fn)
	}

	// The transcript repeats after the request so the client sees the
	// displayed text adjacent to the call it must execute.
	repeat := ems[3].Msg.(voiceagent.ConversationText)
	if repeat.Content != "Let me check the weather." {
		t.Errorf("repeated transcript = %q", repeat.Content)
	}
}

func TestMap_FunctionCallWithoutTranscript(t *testing.T) {
	t.Parallel()

	u := &translate.Upstream{}
	ems := feed(u,
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseCreated},
		&realtimeapi.ServerEvent{
			Type:   realtimeapi.TypeFunctionArgumentsDone,
			CallID: "call-2",
			Name:   "noop",
		},
	)

	want := []string{"AgentThinking", "FunctionCallRequest"}
	if got := msgTypes(ems); !equalTypes(got, want) {
		t.Errorf("emissions = %v; want %v", got, want)
	}
}

func TestMap_SpeechBoundaries(t *testing.T) {
	t.Parallel()

	u := &translate.Upstream{}
	ems := feed(u,
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeSpeechStarted},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeSpeechStopped, AudioEndMs: 2500},
	)

	want := []string{"UserStartedSpeaking", "UserStoppedSpeaking", "UtteranceEnd"}
	if got := msgTypes(ems); !equalTypes(got, want) {
		t.Fatalf("emissions = %v; want %v", got, want)
	}

	stopped := ems[1].Msg.(voiceagent.UserStoppedSpeaking)
	if stopped.Timestamp == nil || *stopped.Timestamp != 2.5 {
		t.Errorf("timestamp = %v; want 2.5", stopped.Timestamp)
	}
	end := ems[2].Msg.(voiceagent.UtteranceEnd)
	if end.LastWordEnd != 2.5 {
		t.Errorf("last_word_end = %v; want 2.5", end.LastWordEnd)
	}
	if len(end.Channel) != 1 || end.Channel[0] != 0 {
		t.Errorf("channel = %v; want [0]", end.Channel)
	}
}

func TestMap_IgnoresDeltasAndLifecycle(t *testing.T) {
	t.Parallel()

	u := &translate.Upstream{}
	ems := feed(u,
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeOutputTextDelta, Delta: "par"},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeOutputTranscriptDelta, Delta: "tial"},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeFunctionArgumentsDelta, Delta: "{"},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeSessionUpdated},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeConversationItemAdded},
		&realtimeapi.ServerEvent{Type: "rate_limits.updated"},
	)
	if len(ems) != 0 {
		t.Errorf("emissions = %v; want none", msgTypes(ems))
	}
}

func TestMap_EmptyAudioDeltaIgnored(t *testing.T) {
	t.Parallel()

	u := &translate.Upstream{}
	ems := feed(u,
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeResponseCreated},
		&realtimeapi.ServerEvent{Type: realtimeapi.TypeOutputAudioDelta, Delta: ""},
	)
	want := []string{"AgentThinking"}
	if got := msgTypes(ems); !equalTypes(got, want) {
		t.Errorf("emissions = %v; want %v", got, want)
	}
}
