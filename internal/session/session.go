// Package session runs one client↔upstream pair: it owns both websockets,
// the session state machine, and the debounced audio commit timer.
//
// Concurrency model: four pump goroutines (client reader, client writer,
// upstream reader, upstream writer) feed a single handler goroutine through
// a mailbox channel. All session state is touched only by the handler, so
// none of it needs locking. Each socket has exactly one writer goroutine
// draining a bounded queue; a full queue is a backpressure breach and ends
// the session rather than blocking the handler.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/observe"
	"github.com/Signal-Meaning/dg-react-agent-sub013/internal/translate"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/realtimeapi"
	"github.com/Signal-Meaning/dg-react-agent-sub013/pkg/voiceagent"
)

// drainTimeout bounds the final flush of queued client frames at close.
const drainTimeout = 2 * time.Second

// Phase is the session lifecycle state. Transitions are strictly forward;
// Closing is reachable from every earlier phase.
type Phase int

const (
	PhaseAwaitingSettings Phase = iota
	PhaseUpstreamConnecting
	PhaseAwaitingSessionUpdated
	PhaseInjectingHistory
	PhaseReady
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingSettings:
		return "awaiting_settings"
	case PhaseUpstreamConnecting:
		return "upstream_connecting"
	case PhaseAwaitingSessionUpdated:
		return "awaiting_session_updated"
	case PhaseInjectingHistory:
		return "injecting_history"
	case PhaseReady:
		return "ready"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config carries the per-session tunables. The server fills it from the
// process configuration.
type Config struct {
	UpstreamURL string
	APIKey      string
	Model       string

	DebounceWindow  time.Duration
	CommitThreshold int

	AckTimeout     time.Duration
	WriteQueueSize int

	LogPayloads bool
}

// event kinds delivered to the handler mailbox.
type eventKind int

const (
	evClientText eventKind = iota
	evClientBinary
	evClientGone
	evUpstreamDialed
	evUpstreamEvent
	evUpstreamGone
	evCommitTimer
	evAckTimeout
)

type event struct {
	kind eventKind
	data []byte
	ev   *realtimeapi.ServerEvent
	conn *websocket.Conn
	err  error
}

// outFrame is one queued client-bound websocket frame.
type outFrame struct {
	typ  websocket.MessageType
	data []byte
}

// pendingUserMessage tracks an accepted InjectUserMessage whose
// response.create has not been released yet.
type pendingUserMessage struct {
	content string
}

// Session is one proxied conversation. Construct with [New], drive with
// [Run]; the zero value is not usable.
type Session struct {
	id      string
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	client   *websocket.Conn
	upstream *websocket.Conn

	mailbox chan event
	done    chan struct{}
	doneOne sync.Once

	clientOut   chan outFrame
	upstreamOut chan []byte

	g   *errgroup.Group
	ctx context.Context

	phase  Phase
	mapper translate.Upstream

	params   realtimeapi.SessionParams
	greeting string
	history  []voiceagent.HistoryMessage
	injected bool

	// settingsApplied flips when the first SettingsApplied is emitted; it is
	// the readiness signal for error classification.
	settingsApplied bool

	// ackQueue records, per outstanding session.update, whether its
	// session.updated acknowledgement must surface as SettingsApplied.
	ackQueue []bool
	ackTimer *time.Timer

	// held buffers parsed control messages that arrived before the session
	// was ready; they replay in arrival order once Ready.
	held []any

	pending []pendingUserMessage

	// historyAcks counts replayed user-role history items whose
	// conversation.item.added acknowledgements are still outstanding. Those
	// acknowledgements belong to the injection, not to any pending user
	// message, and must not release a response.
	historyAcks int

	audioBytes int
	commit     *debouncer

	clientCloseCode   websocket.StatusCode
	clientCloseReason string
}

// New wraps an accepted client websocket in a Session.
func New(client *websocket.Conn, cfg Config, m *observe.Metrics, log *slog.Logger) *Session {
	id := uuid.NewString()
	s := &Session{
		id:      id,
		cfg:     cfg,
		log:     log.With(slog.String("session_id", id)),
		metrics: m,
		client:  client,

		mailbox:     make(chan event, 64),
		done:        make(chan struct{}),
		clientOut:   make(chan outFrame, cfg.WriteQueueSize),
		upstreamOut: make(chan []byte, cfg.WriteQueueSize),

		phase:             PhaseAwaitingSettings,
		clientCloseCode:   websocket.StatusNormalClosure,
		clientCloseReason: "session closed",
	}
	s.commit = newDebouncer(func() {
		s.post(event{kind: evCommitTimer})
	})
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Run drives the session until either socket closes, a fatal error occurs,
// or ctx is cancelled. It always returns nil after an orderly teardown;
// session-level failures are reported to the client and logged, not
// propagated.
func (s *Session) Run(ctx context.Context) error {
	started := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	s.g, _ = errgroup.WithContext(ctx)
	s.g.Go(func() error { return s.clientWriter(ctx) })
	s.g.Go(func() error { return s.clientReader(ctx) })

	s.log.Info("session started")
	s.loop(ctx)

	// Readers exit on cancellation; writers have already drained via done.
	cancel()
	_ = s.g.Wait()

	s.metrics.SessionDuration.Record(context.Background(), time.Since(started).Seconds())
	s.log.Info("session ended", slog.Duration("duration", time.Since(started).Round(time.Millisecond)))
	return nil
}

func (s *Session) loop(ctx context.Context) {
	for s.phase != PhaseClosed {
		select {
		case e := <-s.mailbox:
			s.handle(ctx, e)
		case <-ctx.Done():
			s.shutdown(websocket.StatusGoingAway, "server shutting down", nil)
		}
	}
}

// post delivers an event to the handler. It returns false once the session
// is shutting down so producers never block on a dead mailbox.
func (s *Session) post(e event) bool {
	select {
	case s.mailbox <- e:
		return true
	case <-s.done:
		return false
	}
}

// ── Pumps ─────────────────────────────────────────────────────────────────────

func (s *Session) clientReader(ctx context.Context) error {
	for {
		typ, data, err := s.client.Read(ctx)
		if err != nil {
			s.post(event{kind: evClientGone, err: err})
			return nil
		}
		kind := evClientText
		if typ == websocket.MessageBinary {
			kind = evClientBinary
		}
		if !s.post(event{kind: kind, data: data}) {
			return nil
		}
	}
}

func (s *Session) clientWriter(ctx context.Context) error {
	for {
		select {
		case f := <-s.clientOut:
			if err := s.client.Write(ctx, f.typ, f.data); err != nil {
				s.post(event{kind: evClientGone, err: err})
				return nil
			}
		case <-s.done:
			s.drainClient()
			return nil
		}
	}
}

// drainClient flushes frames queued before shutdown (final Error or Warning
// included) and then closes the client socket with the decided status.
func (s *Session) drainClient() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case f := <-s.clientOut:
			if err := s.client.Write(ctx, f.typ, f.data); err != nil {
				s.client.CloseNow()
				return
			}
		default:
			s.client.Close(s.clientCloseCode, s.clientCloseReason)
			return
		}
	}
}

func (s *Session) upstreamReader(ctx context.Context) error {
	for {
		_, data, err := s.upstream.Read(ctx)
		if err != nil {
			s.post(event{kind: evUpstreamGone, err: err})
			return nil
		}
		ev, err := realtimeapi.ParseServerEvent(data)
		if err != nil {
			s.log.Warn("dropping undecodable upstream event", slog.Any("error", err))
			s.metrics.TranslationWarnings.Add(ctx, 1)
			continue
		}
		if !s.post(event{kind: evUpstreamEvent, ev: ev}) {
			return nil
		}
	}
}

func (s *Session) upstreamWriter(ctx context.Context) error {
	for {
		select {
		case data := <-s.upstreamOut:
			if err := s.upstream.Write(ctx, websocket.MessageText, data); err != nil {
				s.post(event{kind: evUpstreamGone, err: err})
				return nil
			}
		case <-s.done:
			s.drainUpstream()
			return nil
		}
	}
}

// drainUpstream flushes queued provider events, then closes the upstream
// socket. Uncommitted audio appends may flush; a commit is never queued
// during shutdown, so they are inert.
func (s *Session) drainUpstream() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for {
		select {
		case data := <-s.upstreamOut:
			if err := s.upstream.Write(ctx, websocket.MessageText, data); err != nil {
				s.upstream.CloseNow()
				return
			}
		default:
			s.upstream.Close(websocket.StatusNormalClosure, "session closed")
			return
		}
	}
}

// ── Queueing ──────────────────────────────────────────────────────────────────

// enqueueClient marshals msg onto the client write queue.
func (s *Session) enqueueClient(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal client message", slog.Any("error", err))
		return
	}
	if s.cfg.LogPayloads {
		s.log.Debug("→ client", slog.String("payload", string(data)))
	}
	s.enqueueClientFrame(outFrame{typ: websocket.MessageText, data: data})
}

// enqueueClientAudio queues one binary PCM frame for the client.
func (s *Session) enqueueClientAudio(pcm []byte) {
	s.enqueueClientFrame(outFrame{typ: websocket.MessageBinary, data: pcm})
}

func (s *Session) enqueueClientFrame(f outFrame) {
	select {
	case s.clientOut <- f:
	default:
		s.backpressure("client")
	}
}

// enqueueUpstream marshals msg onto the upstream write queue. Callers must
// not use it before the upstream pumps are running.
func (s *Session) enqueueUpstream(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal upstream event", slog.Any("error", err))
		return
	}
	if s.cfg.LogPayloads {
		s.log.Debug("→ upstream", slog.String("payload", string(data)))
	}
	select {
	case s.upstreamOut <- data:
	default:
		s.backpressure("upstream")
	}
}

// backpressure handles a full write queue: the slow side cannot keep up and
// unbounded buffering is not an option, so the session ends. The client
// Warning is best effort; its queue may be the full one.
func (s *Session) backpressure(socket string) {
	if s.phase == PhaseClosing || s.phase == PhaseClosed {
		return
	}
	s.log.Warn("write queue full, closing session", slog.String("socket", socket))
	s.metrics.RecordSessionError(s.ctx, "backpressure")

	warning, err := json.Marshal(voiceagent.Warning{
		Type:        voiceagent.TypeWarning,
		Description: "session falling behind, closing",
		Code:        "backpressure",
	})
	if err == nil {
		select {
		case s.clientOut <- outFrame{typ: websocket.MessageText, data: warning}:
		default:
		}
	}
	s.shutdown(websocket.StatusPolicyViolation, "backpressure", nil)
}

// ── Shutdown ──────────────────────────────────────────────────────────────────

// shutdown moves the session to Closed: the commit timer is cancelled
// without committing, an optional final client message is queued, and the
// writer pumps are released to drain and close their sockets.
func (s *Session) shutdown(code websocket.StatusCode, reason string, finalMsg any) {
	if s.phase == PhaseClosing || s.phase == PhaseClosed {
		return
	}
	s.phase = PhaseClosing
	s.log.Debug("closing session", slog.String("reason", reason))

	s.commit.stop()
	s.stopAckTimer()

	if finalMsg != nil {
		s.enqueueClient(finalMsg)
	}
	s.clientCloseCode = code
	s.clientCloseReason = reason

	s.doneOne.Do(func() { close(s.done) })
	s.phase = PhaseClosed
}

func (s *Session) stopAckTimer() {
	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}
}
