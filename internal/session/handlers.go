package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"

	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/translate"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/realtimeapi"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/voiceagent"
)

// handle dispatches one mailbox event. It runs only on the handler
// goroutine.
func (s *Session) handle(ctx context.Context, e event) {
	switch e.kind {
	case evClientText:
		s.handleClientText(ctx, e.data)
	case evClientBinary:
		s.handleClientAudio(ctx, e.data)
	case evClientGone:
		s.log.Debug("client socket closed", slog.Any("error", e.err))
		s.shutdown(websocket.StatusNormalClosure, "client closed", nil)
	case evUpstreamDialed:
		s.handleDialed(ctx, e)
	case evUpstreamEvent:
		s.handleUpstreamEvent(ctx, e.ev)
	case evUpstreamGone:
		s.handleUpstreamGone(ctx, e.err)
	case evCommitTimer:
		s.handleCommitTimer(ctx)
	case evAckTimeout:
		s.handleAckTimeout(ctx)
	}
}

// ── Client messages ───────────────────────────────────────────────────────────

func (s *Session) handleClientText(ctx context.Context, data []byte) {
	if s.phase == PhaseClosing || s.phase == PhaseClosed {
		return
	}
	if s.cfg.LogPayloads {
		s.log.Debug("← client", slog.String("payload", string(data)))
	}

	msg, err := voiceagent.ParseClientMessage(data)
	if err != nil {
		s.log.Warn("dropping unrecognised client message", slog.Any("error", err))
		s.metrics.TranslationWarnings.Add(ctx, 1)
		return
	}
	s.metrics.RecordClientMessage(ctx, messageType(msg))

	// Liveness and teardown messages are phase-independent.
	switch msg.(type) {
	case *voiceagent.KeepAlive:
		s.log.Debug("keepalive")
		return
	case *voiceagent.CloseStream:
		s.shutdown(websocket.StatusNormalClosure, "close requested", nil)
		return
	}

	switch s.phase {
	case PhaseAwaitingSettings:
		switch m := msg.(type) {
		case *voiceagent.Settings:
			s.applySettings(ctx, m)
		case *voiceagent.InjectUserMessage:
			// A user message with no settings in effect has no session to
			// land in; this is a protocol violation, not a race to tolerate.
			s.metrics.RecordSessionError(ctx, "message_before_settings")
			s.shutdown(websocket.StatusPolicyViolation, "settings required first", voiceagent.Error{
				Type:        voiceagent.TypeError,
				Description: "Settings must be the first message of the session",
				Code:        "settings_required",
			})
		default:
			s.held = append(s.held, msg)
		}

	case PhaseUpstreamConnecting, PhaseAwaitingSessionUpdated, PhaseInjectingHistory:
		// The session exists but is not ready; control messages wait their
		// turn and replay in order once it is.
		s.held = append(s.held, msg)

	case PhaseReady:
		s.handleReadyMessage(ctx, msg)
	}
}

// handleReadyMessage processes one control message with the session fully
// established.
func (s *Session) handleReadyMessage(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case *voiceagent.Settings:
		// Re-applying settings acknowledges with a fresh SettingsApplied.
		// History and greeting were injected once and stay injected.
		s.params = translate.SessionParams(m)
		s.sendSessionUpdate(true)

	case *voiceagent.InjectUserMessage:
		s.enqueueClient(voiceagent.ConversationText{
			Type:    voiceagent.TypeConversationText,
			Role:    "user",
			Content: m.Content,
		})
		s.enqueueUpstream(translate.UserMessageItem(m.Content))
		s.pending = append(s.pending, pendingUserMessage{content: m.Content})

	case *voiceagent.InjectAgentMessage:
		s.enqueueClient(voiceagent.ConversationText{
			Type:    voiceagent.TypeConversationText,
			Role:    "assistant",
			Content: m.Content,
		})
		s.enqueueUpstream(translate.AgentMessageItem(m.Content))

	case *voiceagent.UpdatePrompt:
		s.params.Instructions = m.Prompt
		s.sendSessionUpdate(false)

	case *voiceagent.UpdateSpeak:
		s.params.Voice = m.Speak.Provider.Model
		s.sendSessionUpdate(false)

	case *voiceagent.FunctionCallResponse:
		// Result item first, then the response asking the model to continue.
		s.enqueueUpstream(translate.FunctionOutputItem(m))
		s.enqueueUpstream(realtimeapi.NewResponseCreate())

	default:
		s.log.Warn("unhandled client message", slog.String("go_type", fmt.Sprintf("%T", msg)))
		s.metrics.TranslationWarnings.Add(ctx, 1)
	}
}

// sendSessionUpdate forwards the current session parameters upstream and
// records whether the acknowledgement must surface as SettingsApplied.
func (s *Session) sendSessionUpdate(wantApplied bool) {
	s.enqueueUpstream(realtimeapi.NewSessionUpdate(s.params))
	s.ackQueue = append(s.ackQueue, wantApplied)
	if s.ackTimer == nil {
		s.ackTimer = time.AfterFunc(s.cfg.AckTimeout, func() {
			s.post(event{kind: evAckTimeout})
		})
	}
}

// ── Audio ─────────────────────────────────────────────────────────────────────

func (s *Session) handleClientAudio(ctx context.Context, pcm []byte) {
	switch s.phase {
	case PhaseAwaitingSettings:
		s.log.Warn("dropping audio received before settings", slog.Int("bytes", len(pcm)))
		s.metrics.TranslationWarnings.Add(ctx, 1)
		return
	case PhaseReady:
	default:
		// Session in flight or closing; the microphone will resend.
		s.log.Debug("dropping audio outside ready phase", slog.String("phase", s.phase.String()))
		return
	}

	s.enqueueUpstream(realtimeapi.NewAppendAudio(pcm))
	s.audioBytes += len(pcm)
	s.metrics.AudioBytes.Add(ctx, int64(len(pcm)))
	s.commit.arm(s.cfg.DebounceWindow)
}

func (s *Session) handleCommitTimer(ctx context.Context) {
	if s.phase != PhaseReady {
		return
	}
	if s.audioBytes < s.cfg.CommitThreshold {
		// Not enough audio for the provider to accept a commit; wait for
		// more rather than triggering an empty-buffer error.
		if s.audioBytes > 0 {
			s.commit.arm(s.cfg.DebounceWindow)
		}
		return
	}
	s.enqueueUpstream(realtimeapi.NewCommit())
	s.enqueueUpstream(realtimeapi.NewResponseCreate())
	s.metrics.AudioCommits.Add(ctx, 1)
	s.log.Debug("committed audio buffer", slog.Int("bytes", s.audioBytes))
	s.audioBytes = 0
}

// ── Upstream lifecycle ────────────────────────────────────────────────────────

// applySettings captures the session parameters and starts the upstream
// dial. The dial runs off the handler goroutine and reports back through the
// mailbox.
func (s *Session) applySettings(ctx context.Context, settings *voiceagent.Settings) {
	s.params = translate.SessionParams(settings)
	s.greeting = settings.Agent.Greeting
	if settings.Agent.Context != nil {
		s.history = settings.Agent.Context.Messages
	}
	s.phase = PhaseUpstreamConnecting

	go func() {
		conn, err := s.dial(ctx)
		if !s.post(event{kind: evUpstreamDialed, conn: conn, err: err}) && conn != nil {
			conn.Close(websocket.StatusNormalClosure, "session closed")
		}
	}()
}

// dial opens the provider websocket. The credential travels only in the
// Authorization header, never in the URL or any client-visible payload.
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("session: parse upstream url: %w", err)
	}
	q := u.Query()
	q.Set("model", s.cfg.Model)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("session: upstream handshake: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("session: upstream dial: %w", err)
	}
	conn.SetReadLimit(16 << 20)
	return conn, nil
}

func (s *Session) handleDialed(ctx context.Context, e event) {
	if s.phase != PhaseUpstreamConnecting {
		if e.conn != nil {
			e.conn.Close(websocket.StatusNormalClosure, "session closed")
		}
		return
	}
	if e.err != nil {
		s.log.Error("upstream dial failed", slog.Any("error", e.err))
		s.metrics.RecordSessionError(ctx, "upstream_dial")
		s.shutdown(websocket.StatusInternalError, "upstream connection failed", voiceagent.Error{
			Type:        voiceagent.TypeError,
			Description: translate.Scrub(e.err.Error(), s.cfg.APIKey),
			Code:        "upstream_connection_failed",
		})
		return
	}

	s.upstream = e.conn
	s.g.Go(func() error { return s.upstreamReader(s.ctx) })
	s.g.Go(func() error { return s.upstreamWriter(s.ctx) })

	s.phase = PhaseAwaitingSessionUpdated
	s.sendSessionUpdate(true)
	s.log.Debug("upstream connected")
}

func (s *Session) handleUpstreamEvent(ctx context.Context, ev *realtimeapi.ServerEvent) {
	if s.phase == PhaseClosing || s.phase == PhaseClosed {
		return
	}
	s.metrics.RecordUpstreamEvent(ctx, ev.Type)
	if s.cfg.LogPayloads {
		s.log.Debug("← upstream", slog.String("type", ev.Type))
	}

	switch ev.Type {
	case realtimeapi.TypeSessionUpdated:
		s.handleSessionUpdated(ctx)
		return

	case realtimeapi.TypeConversationItemAdded:
		if ev.Item != nil && ev.Item.Role == "user" {
			// Acknowledgements for replayed history items arrive first, in
			// submission order; only acks beyond those belong to pending
			// user messages.
			if s.historyAcks > 0 {
				s.historyAcks--
				return
			}
			s.releasePending()
		}
		return

	case realtimeapi.TypeError:
		s.handleUpstreamError(ctx, ev)
		return
	}

	for _, em := range s.mapper.Map(ev) {
		if em.Msg != nil {
			s.enqueueClient(em.Msg)
		}
		if em.Audio != nil {
			s.enqueueClientAudio(em.Audio)
		}
	}
}

// handleSessionUpdated consumes one session.update acknowledgement. The
// first acknowledged Settings also triggers the one-time history injection.
func (s *Session) handleSessionUpdated(ctx context.Context) {
	s.stopAckTimer()
	if len(s.ackQueue) == 0 {
		// The provider may describe its own state unprompted; nothing of
		// ours is outstanding.
		s.log.Debug("unsolicited session.updated")
		return
	}
	wantApplied := s.ackQueue[0]
	s.ackQueue = s.ackQueue[1:]
	if len(s.ackQueue) > 0 {
		s.ackTimer = time.AfterFunc(s.cfg.AckTimeout, func() {
			s.post(event{kind: evAckTimeout})
		})
	}

	if wantApplied {
		s.enqueueClient(voiceagent.SettingsApplied{Type: voiceagent.TypeSettingsApplied})
		s.settingsApplied = true
	}
	if wantApplied && !s.injected {
		s.injectHistory(ctx)
	}
}

// injectHistory replays the conversation context and greeting, then opens
// the session for client traffic, replaying anything held back meanwhile.
func (s *Session) injectHistory(ctx context.Context) {
	s.phase = PhaseInjectingHistory

	for _, msg := range s.history {
		item, err := translate.HistoryItem(msg)
		if err != nil {
			s.log.Warn("skipping history message", slog.Any("error", err))
			s.metrics.TranslationWarnings.Add(ctx, 1)
			continue
		}
		if msg.Role == "user" {
			s.historyAcks++
		}
		s.enqueueUpstream(item)
	}
	if s.greeting != "" {
		s.enqueueUpstream(translate.AgentMessageItem(s.greeting))
		s.enqueueClient(voiceagent.ConversationText{
			Type:    voiceagent.TypeConversationText,
			Role:    "assistant",
			Content: s.greeting,
		})
	}

	s.injected = true
	s.phase = PhaseReady
	s.log.Info("session ready",
		slog.Int("history_messages", len(s.history)),
		slog.Bool("greeting", s.greeting != ""))

	held := s.held
	s.held = nil
	for _, msg := range held {
		if s.phase != PhaseReady {
			return
		}
		s.handleReadyMessage(ctx, msg)
	}
}

// releasePending sends the response.create for the oldest acknowledged user
// message. One acknowledgement releases exactly one response.
func (s *Session) releasePending() {
	if len(s.pending) == 0 {
		return
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	s.enqueueUpstream(realtimeapi.NewResponseCreate())
	s.log.Debug("released response for user message",
		slog.Int("content_len", len(next.content)),
		slog.Int("still_pending", len(s.pending)))
}

// ── Upstream failure ──────────────────────────────────────────────────────────

func (s *Session) handleUpstreamError(ctx context.Context, ev *realtimeapi.ServerEvent) {
	sev := translate.ClassifyError(ev.Error, s.settingsApplied)
	if sev == translate.Fatal {
		s.log.Error("fatal upstream error", slogErrorDetail(ev.Error))
		s.metrics.RecordSessionError(ctx, "upstream_error")
		s.shutdown(websocket.StatusInternalError, "upstream error",
			translate.ClientError(ev.Error, s.cfg.APIKey))
		return
	}
	s.log.Warn("recoverable upstream error", slogErrorDetail(ev.Error))
	s.enqueueClient(translate.ClientWarning(ev.Error, s.cfg.APIKey))
}

func (s *Session) handleUpstreamGone(ctx context.Context, err error) {
	if s.phase == PhaseClosing || s.phase == PhaseClosed {
		return
	}
	// A clean upstream close is an orderly end only once the client has a
	// working session; before SettingsApplied it leaves the client with
	// nothing, so it surfaces as an Error like any other loss.
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure && s.settingsApplied {
		s.log.Debug("upstream closed cleanly")
		s.shutdown(websocket.StatusNormalClosure, "upstream closed", nil)
		return
	}

	s.log.Error("upstream connection lost", slog.Any("error", err))
	s.metrics.RecordSessionError(ctx, "upstream_gone")
	s.shutdown(websocket.StatusInternalError, "upstream connection lost", voiceagent.Error{
		Type:        voiceagent.TypeError,
		Description: "upstream connection lost",
		Code:        "upstream_connection_lost",
	})
}

func (s *Session) handleAckTimeout(ctx context.Context) {
	if len(s.ackQueue) == 0 || s.phase == PhaseClosing || s.phase == PhaseClosed {
		return
	}
	s.log.Error("timed out waiting for upstream session acknowledgement")
	s.metrics.RecordSessionError(ctx, "ack_timeout")
	s.shutdown(websocket.StatusInternalError, "upstream acknowledgement timeout", voiceagent.Error{
		Type:        voiceagent.TypeError,
		Description: "timed out waiting for the upstream session acknowledgement",
		Code:        "ack_timeout",
	})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// slogErrorDetail renders an upstream error object as a log group.
func slogErrorDetail(d *realtimeapi.ErrorDetail) slog.Attr {
	if d == nil {
		return slog.String("upstream_error", "no detail")
	}
	return slog.Group("upstream_error",
		slog.String("type", d.Type),
		slog.String("code", d.Code),
		slog.String("message", d.Message),
	)
}

// messageType extracts the wire type name of a parsed client message for
// metric labels.
func messageType(msg any) string {
	switch msg.(type) {
	case *voiceagent.Settings:
		return voiceagent.TypeSettings
	case *voiceagent.InjectUserMessage:
		return voiceagent.TypeInjectUserMessage
	case *voiceagent.InjectAgentMessage:
		return voiceagent.TypeInjectAgentMessage
	case *voiceagent.UpdatePrompt:
		return voiceagent.TypeUpdatePrompt
	case *voiceagent.UpdateSpeak:
		return voiceagent.TypeUpdateSpeak
	case *voiceagent.FunctionCallResponse:
		return voiceagent.TypeFunctionCallResponse
	case *voiceagent.KeepAlive:
		return voiceagent.TypeKeepAlive
	case *voiceagent.CloseStream:
		return voiceagent.TypeCloseStream
	default:
		return "unknown"
	}
}
