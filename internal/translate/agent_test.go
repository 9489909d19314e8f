package translate_test

import (
	"testing"

	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/translate"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/realtimeapi"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/voiceagent"
)

func TestSessionParams_FlattensSettings(t *testing.T) {
	t.Parallel()

	settings := &voiceagent.Settings{
		Type: voiceagent.TypeSettings,
		Agent: voiceagent.AgentConfig{
			Think: voiceagent.ThinkConfig{
				Prompt: "Answer briefly.",
				Functions: []voiceagent.FunctionDef{
					{Name: "lookup", Description: "Looks things up", ClientSide: true},
				},
			},
			Speak: voiceagent.SpeakConfig{
				Provider: voiceagent.ProviderRef{Type: "open_ai", Model: "marin"},
			},
		},
	}

	params := translate.SessionParams(settings)
	if params.Voice != "marin" {
		t.Errorf("voice = %q; want marin", params.Voice)
	}
	if params.Instructions != "Answer briefly." {
		t.Errorf("instructions = %q", params.Instructions)
	}
	if params.InputAudioFormat != "pcm16" || params.OutputAudioFormat != "pcm16" {
		t.Errorf("audio formats = %q/%q; want pcm16/pcm16", params.InputAudioFormat, params.OutputAudioFormat)
	}
	if len(params.Tools) != 1 || params.Tools[0].Name != "lookup" {
		t.Fatalf("tools = %+v; want one lookup tool", params.Tools)
	}
}

func TestTools_StripsClientSideFlag(t *testing.T) {
	t.Parallel()

	tools := translate.Tools([]voiceagent.FunctionDef{{
		Name:        "get_weather",
		Description: "Weather lookup",
		Parameters:  map[string]any{"type": "object"},
		ClientSide:  true,
	}})
	if len(tools) != 1 {
		t.Fatalf("len(tools) = %d; want 1", len(tools))
	}
	tool := tools[0]
	if tool.Type != "function" {
		t.Errorf("tool type = %q; want function", tool.Type)
	}
	if tool.Name != "get_weather" || tool.Description != "Weather lookup" {
		t.Errorf("tool = %+v", tool)
	}
	// The upstream Tool struct has no client_side field at all; the flag
	// cannot leak by construction. Parameters pass through unchanged.
	if tool.Parameters["type"] != "object" {
		t.Errorf("parameters = %+v", tool.Parameters)
	}
}

func TestTools_EmptyYieldsNil(t *testing.T) {
	t.Parallel()

	if got := translate.Tools(nil); got != nil {
		t.Errorf("Tools(nil) = %v; want nil", got)
	}
	if got := translate.Tools([]voiceagent.FunctionDef{}); got != nil {
		t.Errorf("Tools(empty) = %v; want nil", got)
	}
}

func TestHistoryItem_RoleContentTypes(t *testing.T) {
	t.Parallel()

	user, err := translate.HistoryItem(voiceagent.HistoryMessage{Role: "user", Content: "hi"})
	if err != nil {
		t.Fatalf("user history item: %v", err)
	}
	if got := user.Item.Content[0].Type; got != realtimeapi.ContentInputText {
		t.Errorf("user content type = %q; want input_text", got)
	}

	assistant, err := translate.HistoryItem(voiceagent.HistoryMessage{Role: "assistant", Content: "hello"})
	if err != nil {
		t.Fatalf("assistant history item: %v", err)
	}
	if got := assistant.Item.Content[0].Type; got != realtimeapi.ContentOutputText {
		t.Errorf("assistant content type = %q; want output_text", got)
	}
}

func TestHistoryItem_RejectsUnknownRole(t *testing.T) {
	t.Parallel()

	if _, err := translate.HistoryItem(voiceagent.HistoryMessage{Role: "system", Content: "x"}); err == nil {
		t.Fatal("expected error for role system")
	}
	if _, err := translate.HistoryItem(voiceagent.HistoryMessage{Role: "", Content: "x"}); err == nil {
		t.Fatal("expected error for empty role")
	}
}

func TestFunctionOutputItem(t *testing.T) {
	t.Parallel()

	item := translate.FunctionOutputItem(&voiceagent.FunctionCallResponse{
		Type:    voiceagent.TypeFunctionCallResponse,
		ID:      "call-9",
		Name:    "get_weather",
		Content: `{"temp":21}`,
	})
	if item.Item.Type != realtimeapi.ItemFunctionCallOutput {
		t.Errorf("item type = %q", item.Item.Type)
	}
	if item.Item.CallID != "call-9" || item.Item.Output != `{"temp":21}` {
		t.Errorf("item = %+v", item.Item)
	}
}
