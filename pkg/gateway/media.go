package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/frontdesk-ai/frontdesk/pkg/agent"
	"github.com/frontdesk-ai/frontdesk/pkg/carrier"
	"github.com/frontdesk-ai/frontdesk/pkg/dispatch"
	"github.com/frontdesk-ai/frontdesk/pkg/handlers"
	"github.com/frontdesk-ai/frontdesk/pkg/memory"
	"github.com/frontdesk-ai/frontdesk/pkg/resilience"
	"github.com/frontdesk-ai/frontdesk/pkg/session"
)

// handshakeTimeout bounds how long the carrier may take to send its start
// message after the websocket opens.
const handshakeTimeout = 5 * time.Second

// transferHook breaks the construction cycle between the handler set (which
// needs a transfer target) and the session (which is that target but needs
// the dispatcher first).
type transferHook struct {
	mu sync.Mutex
	fn func(reason string)
}

func (h *transferHook) Bind(fn func(reason string)) {
	h.mu.Lock()
	h.fn = fn
	h.mu.Unlock()
}

func (h *transferHook) RequestTransfer(reason string) {
	h.mu.Lock()
	fn := h.fn
	h.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// mediaHandler accepts the carrier's per-call media websocket and runs a
// session for its lifetime.
type mediaHandler struct {
	srv *Server
}

func (h mediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	log := h.srv.log
	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	conn := carrier.NewConn(r.Context(), ws, carrier.ConnConfig{})

	start, ok := h.awaitStart(conn)
	if !ok {
		log.Warn().Msg("carrier connected but never sent start")
		_ = conn.Close()
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	cfg := h.srv.cfg
	sessionID := uuid.NewString()
	log = log.With("call_id", start.CallID)

	hook := &transferHook{}
	set := handlers.NewSet(h.srv.practice, hook, cfg.Transfer.Number, log)
	registry, err := dispatch.NewRegistry(cfg.Functions, set.Map())
	if err != nil {
		log.Error().Err(err).Msg("function registry rejected configuration")
		_ = conn.Close()
		return
	}
	dispatcher := dispatch.NewDispatcher(registry, h.srv.pool, resilience.DispatchPolicy(), log)

	sess, err := session.New(session.Params{
		ID:          sessionID,
		Start:       start,
		Carrier:     conn,
		Dialer:      agent.Dialer{URL: cfg.Agent.URL, APIKey: cfg.Agent.APIKey},
		AgentFormat: cfg.Audio.Agent,
		ChunkMS:     cfg.Audio.ChunkMS,
		Greeting:    cfg.Greeting,
		System:      cfg.System,
		Tools:       registry.Schemas(),
		Endpointing: agent.Endpointing{
			SilenceMS:      cfg.Turns.SilenceMS,
			MaxUtteranceMS: cfg.Turns.MaxUtteranceMS,
		},
		BargeIn:        cfg.Turns.BargeInSensitivity,
		TransferNumber: cfg.Transfer.Number,
		Dispatcher:     dispatcher,
		Memory:         memory.NewManager(cfg.Memory, nil),
		Supervisor:     resilience.NewSupervisor(cfg.Reconnect, start.Format, cfg.Audio.HoldMS, log),
		Store:          h.srv.db,
		Metrics:        h.srv.metrics,
		Log:            log,
	})
	if err != nil {
		log.Error().Err(err).Msg("session assembly failed")
		_ = conn.Close()
		return
	}
	hook.Bind(sess.RequestTransfer)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	unregister := h.srv.tracker.Register(sessionID, session.Handle{
		Cancel:   cancel,
		Snapshot: sess.Snapshot,
	})
	defer unregister()

	if err := sess.Run(ctx); err != nil {
		log.Warn().Err(err).Msg("session ended with error")
	}
}

// awaitStart consumes handshake frames until the start message arrives.
// The carrier may send a connected preamble first.
func (h mediaHandler) awaitStart(conn *carrier.Conn) (carrier.StartInfo, bool) {
	for i := 0; i < 4; i++ {
		msg, err := conn.Read()
		if err != nil {
			return carrier.StartInfo{}, false
		}
		switch m := msg.(type) {
		case carrier.Connected:
			continue
		case carrier.Start:
			return m.Start, true
		default:
			return carrier.StartInfo{}, false
		}
	}
	return carrier.StartInfo{}, false
}
