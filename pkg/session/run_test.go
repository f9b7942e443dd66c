package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontdesk-ai/frontdesk/pkg/agent"
	"github.com/frontdesk-ai/frontdesk/pkg/audio"
	"github.com/frontdesk-ai/frontdesk/pkg/carrier"
	"github.com/frontdesk-ai/frontdesk/pkg/dispatch"
	"github.com/frontdesk-ai/frontdesk/pkg/memory"
	"github.com/frontdesk-ai/frontdesk/pkg/metrics"
	"github.com/frontdesk-ai/frontdesk/pkg/resilience"
	"github.com/frontdesk-ai/frontdesk/pkg/store"
)

var testUpgrader = websocket.Upgrader{}

// carrierPair returns both ends of a live carrier websocket: the accepted
// side for the session and the dialed side for the test to drive.
func carrierPair(t *testing.T) (accepted *websocket.Conn, client *websocket.Conn) {
	t.Helper()
	acceptedCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		acceptedCh <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case accepted = <-acceptedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("carrier upgrade never completed")
	}
	return accepted, client
}

// fakeAgent runs a scripted speech-agent service and reports the payload it
// received on function.result.
func fakeAgent(t *testing.T) (agent.Dialer, <-chan map[string]any) {
	t.Helper()
	booked := make(chan map[string]any, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		send := func(s string) bool {
			return c.WriteMessage(websocket.TextMessage, []byte(s)) == nil
		}

		// First message must be setup.
		_, data, err := c.ReadMessage()
		if err != nil || !strings.Contains(string(data), "session.setup") {
			t.Error("agent link did not open with session.setup")
			return
		}

		send(`{"type":"agent.speech_started","text":"Hi, how can I help you today?"}`)
		send(`{"type":"agent.speech_done"}`)

		// Wait for caller audio to arrive before acting on it.
		for {
			_, data, err = c.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(data), "audio.append") {
				break
			}
		}

		send(`{"type":"user.speech_started"}`)
		send(`{"type":"transcript.delta","role":"caller","text":"I need to book a cleaning","is_final":true}`)
		send(`{"type":"user.speech_stopped"}`)
		send(`{"type":"function.call","correlation_id":"fc1","name":"book_appointment","arguments":{"service":"cleaning"}}`)

		for {
			_, data, err = c.ReadMessage()
			if err != nil {
				return
			}
			if !strings.Contains(string(data), "function.result") {
				continue
			}
			var res struct {
				OK      bool           `json:"ok"`
				Payload map[string]any `json:"payload"`
			}
			if json.Unmarshal(data, &res) == nil && res.OK {
				booked <- res.Payload
			}
			break
		}

		send(`{"type":"agent.speech_started","text":"You are booked for Tuesday at two."}`)
		send(`{"type":"agent.speech_done"}`)

		// Drain until the session closes the link.
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return agent.Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, booked
}

func bookingDispatcher(t *testing.T) (*dispatch.Dispatcher, *dispatch.Pool) {
	t.Helper()
	reg, err := dispatch.NewRegistry(
		[]dispatch.Definition{{Name: "book_appointment", Timeout: 2 * time.Second}},
		map[string]dispatch.Handler{
			"book_appointment": dispatch.HandlerFunc(func(ctx context.Context, req dispatch.Request) (map[string]any, error) {
				return map[string]any{"booked": true, "ref": "APT-9"}, nil
			}),
		},
	)
	require.NoError(t, err)
	pool := dispatch.NewPool(2, 8)
	t.Cleanup(pool.Close)
	return dispatch.NewDispatcher(reg, pool, resilience.DispatchPolicy(), nil), pool
}

func loudMediaFrame(t *testing.T) string {
	t.Helper()
	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = audio.EncodeMulawSample(18000)
	}
	payload := base64.StdEncoding.EncodeToString(frame)
	msg, err := json.Marshal(map[string]any{
		"event": "media",
		"media": map[string]any{"payload_b64": payload},
	})
	require.NoError(t, err)
	return string(msg)
}

func TestCallSessionBooksAppointment(t *testing.T) {
	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	acceptedWS, carrierClient := carrierPair(t)
	dialer, booked := fakeAgent(t)
	dispatcher, _ := bookingDispatcher(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := New(Params{
		ID: "sess-e2e",
		Start: carrier.StartInfo{
			CallID: "CA-e2e",
			Caller: "+15551230000",
			Format: audio.CarrierDefault(),
		},
		Carrier:     carrier.NewConn(ctx, acceptedWS, carrier.ConnConfig{}),
		Dialer:      dialer,
		AgentFormat: audio.AgentDefault(),
		ChunkMS:     120,
		Endpointing: agent.Endpointing{SilenceMS: 700, MaxUtteranceMS: 9000},
		Dispatcher:  dispatcher,
		Memory:      memory.NewManager(memory.DefaultConfig(), nil),
		Supervisor: resilience.NewSupervisor(
			resilience.Policy{MaxAttempts: 2, Initial: 10 * time.Millisecond, Cap: 10 * time.Millisecond},
			audio.CarrierDefault(), 1000, nil),
		Store:   db,
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	// Caller speaks: enough 20ms frames to fill at least one agent chunk.
	frame := loudMediaFrame(t)
	for i := 0; i < 12; i++ {
		require.NoError(t, carrierClient.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	select {
	case payload := <-booked:
		assert.Equal(t, "APT-9", payload["ref"])
	case <-time.After(5 * time.Second):
		t.Fatal("booking result never reached the agent")
	}

	// Carrier hangs up; the session must finalize and persist.
	require.NoError(t, carrierClient.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"stop","reason":"caller hung up"}`)))

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finalize after carrier stop")
	}

	rec, err := db.GetCallRecord("sess-e2e")
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeBooked, rec.Outcome)
	assert.Equal(t, "APT-9", rec.AppointmentRef)
	assert.Equal(t, "CA-e2e", rec.CarrierCallID)
	assert.GreaterOrEqual(t, rec.DurationMS, int64(0))

	var roles []memory.Role
	for _, turn := range rec.Transcript {
		roles = append(roles, turn.Role)
	}
	assert.Contains(t, roles, memory.RoleCaller)
	assert.Contains(t, roles, memory.RoleAgent)

	counts, err := db.CountByOutcome()
	require.NoError(t, err)
	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, 1, total, "exactly one record per session")
}

func TestFinalizeWritesExactlyOneRecord(t *testing.T) {
	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	acceptedWS, _ := carrierPair(t)
	dispatcher, _ := bookingDispatcher(t)

	ctx := context.Background()
	sess, err := New(Params{
		ID: "sess-dup",
		Start: carrier.StartInfo{
			CallID: "CA-dup",
			Caller: "+15551230000",
			Format: audio.CarrierDefault(),
		},
		Carrier:     carrier.NewConn(ctx, acceptedWS, carrier.ConnConfig{}),
		Dialer:      agent.Dialer{URL: "ws://127.0.0.1:1/unreachable"},
		AgentFormat: audio.AgentDefault(),
		ChunkMS:     120,
		Dispatcher:  dispatcher,
		Memory:      memory.NewManager(memory.DefaultConfig(), nil),
		Supervisor: resilience.NewSupervisor(
			resilience.Policy{MaxAttempts: 1, Initial: time.Millisecond, Cap: time.Millisecond},
			audio.CarrierDefault(), 100, nil),
		Store:   db,
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	// Duplicate close signals must still produce one record, first wins.
	sess.finalize(ctx, store.OutcomeInfo)
	sess.finalize(ctx, store.OutcomeMissed)

	rec, err := db.GetCallRecord("sess-dup")
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeInfo, rec.Outcome)

	recs, err := db.QueryCallRecords(store.Query{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func recvFrame(t *testing.T, ch <-chan []byte, what string) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(5 * time.Second):
		t.Fatalf("%s never arrived", what)
		return nil
	}
}

func TestReconnectSeedsConversationContext(t *testing.T) {
	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	acceptedWS, carrierClient := carrierPair(t)
	dispatcher, _ := bookingDispatcher(t)

	setups := make(chan []byte, 2)
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		_, data, err := c.ReadMessage()
		if err != nil {
			c.Close()
			return
		}
		setups <- data

		if n == 1 {
			// The caller speaks and a slot lands, then the link drops.
			_ = c.WriteMessage(websocket.TextMessage,
				[]byte(`{"type":"transcript.delta","role":"caller","text":"I need a cleaning on Thursday","is_final":true}`))
			_ = c.WriteMessage(websocket.TextMessage,
				[]byte(`{"type":"slot.update","key":"service","value":"cleaning"}`))
			time.Sleep(500 * time.Millisecond)
			c.Close()
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := New(Params{
		ID: "sess-reconn",
		Start: carrier.StartInfo{
			CallID: "CA-reconn",
			Caller: "+15551230000",
			Format: audio.CarrierDefault(),
		},
		Carrier:     carrier.NewConn(ctx, acceptedWS, carrier.ConnConfig{}),
		Dialer:      agent.Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")},
		AgentFormat: audio.AgentDefault(),
		ChunkMS:     120,
		Endpointing: agent.Endpointing{SilenceMS: 700, MaxUtteranceMS: 9000},
		Dispatcher:  dispatcher,
		Memory:      memory.NewManager(memory.DefaultConfig(), nil),
		Supervisor: resilience.NewSupervisor(
			resilience.Policy{MaxAttempts: 3, Initial: 20 * time.Millisecond, Cap: 50 * time.Millisecond},
			audio.CarrierDefault(), 1000, nil),
		Store:   db,
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	var first, second agent.Setup
	require.NoError(t, json.Unmarshal(recvFrame(t, setups, "first setup"), &first))
	require.NoError(t, json.Unmarshal(recvFrame(t, setups, "second setup"), &second))

	assert.Nil(t, first.Context, "a fresh call has nothing to replay")

	// The re-dialed link must pick the conversation back up, not start over.
	require.NotNil(t, second.Context)
	var texts []string
	for _, turn := range second.Context.Turns {
		texts = append(texts, turn.Text)
	}
	assert.Contains(t, texts, "I need a cleaning on Thursday")
	assert.Equal(t, "cleaning", second.Context.Slots["service"])

	require.NoError(t, carrierClient.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"stop","reason":"caller hung up"}`)))
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finalize")
	}
}

func TestShutdownKeepsBookedOutcome(t *testing.T) {
	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	acceptedWS, carrierClient := carrierPair(t)
	dialer, booked := fakeAgent(t)
	dispatcher, _ := bookingDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess, err := New(Params{
		ID: "sess-shutdown",
		Start: carrier.StartInfo{
			CallID: "CA-shutdown",
			Caller: "+15551230000",
			Format: audio.CarrierDefault(),
		},
		Carrier:     carrier.NewConn(context.Background(), acceptedWS, carrier.ConnConfig{}),
		Dialer:      dialer,
		AgentFormat: audio.AgentDefault(),
		ChunkMS:     120,
		Endpointing: agent.Endpointing{SilenceMS: 700, MaxUtteranceMS: 9000},
		Dispatcher:  dispatcher,
		Memory:      memory.NewManager(memory.DefaultConfig(), nil),
		Supervisor: resilience.NewSupervisor(
			resilience.Policy{MaxAttempts: 2, Initial: 10 * time.Millisecond, Cap: 10 * time.Millisecond},
			audio.CarrierDefault(), 1000, nil),
		Store:   db,
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	frame := loudMediaFrame(t)
	for i := 0; i < 12; i++ {
		require.NoError(t, carrierClient.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	select {
	case payload := <-booked:
		assert.Equal(t, "APT-9", payload["ref"])
	case <-time.After(5 * time.Second):
		t.Fatal("booking result never reached the agent")
	}

	// Graceful shutdown cancels the context; the record must keep the real
	// outcome, not get stamped as missed.
	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finalize after cancel")
	}

	rec, err := db.GetCallRecord("sess-shutdown")
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeBooked, rec.Outcome)
	assert.Equal(t, "APT-9", rec.AppointmentRef)
}

func TestBargeInSuppressesAgentAudio(t *testing.T) {
	db, err := store.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	acceptedWS, carrierClient := carrierPair(t)
	dispatcher, _ := bookingDispatcher(t)

	// 200ms of agent-format audio, exactly two 100ms carrier frames.
	audioMsg := `{"type":"audio.delta","data_b64":"` +
		base64.StdEncoding.EncodeToString(make([]byte, 6400)) + `"}`

	bargeDone := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		send := func(s string) bool {
			return c.WriteMessage(websocket.TextMessage, []byte(s)) == nil
		}

		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		send(`{"type":"agent.speech_started","text":"Hi, how can I help you today?"}`)
		send(audioMsg)
		// Let the frames reach the wire before the interruption.
		time.Sleep(300 * time.Millisecond)
		send(`{"type":"user.speech_started"}`)
		send(audioMsg) // late synthesis, must be suppressed
		send(`{"type":"transcript.delta","role":"caller","text":"Actually, I just have a question","is_final":true}`)
		send(`{"type":"user.speech_stopped"}`)
		send(`{"type":"agent.speech_started","text":"Sure, go ahead."}`)
		send(`{"type":"agent.speech_done"}`)
		close(bargeDone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	var (
		frameMu sync.Mutex
		frames  []string
	)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			_, data, err := carrierClient.ReadMessage()
			if err != nil {
				return
			}
			var env struct {
				Event string `json:"event"`
			}
			if json.Unmarshal(data, &env) == nil {
				frameMu.Lock()
				frames = append(frames, env.Event)
				frameMu.Unlock()
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := New(Params{
		ID: "sess-barge",
		Start: carrier.StartInfo{
			CallID: "CA-barge",
			Caller: "+15551230000",
			Format: audio.CarrierDefault(),
		},
		Carrier:     carrier.NewConn(ctx, acceptedWS, carrier.ConnConfig{}),
		Dialer:      agent.Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")},
		AgentFormat: audio.AgentDefault(),
		ChunkMS:     120,
		Endpointing: agent.Endpointing{SilenceMS: 700, MaxUtteranceMS: 9000},
		Dispatcher:  dispatcher,
		Memory:      memory.NewManager(memory.DefaultConfig(), nil),
		Supervisor: resilience.NewSupervisor(
			resilience.Policy{MaxAttempts: 2, Initial: 10 * time.Millisecond, Cap: 10 * time.Millisecond},
			audio.CarrierDefault(), 1000, nil),
		Store:   db,
		Metrics: metrics.New(prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	select {
	case <-bargeDone:
	case <-time.After(5 * time.Second):
		t.Fatal("scripted interruption never completed")
	}

	// Wait for the barge-in flush to reach the carrier before hanging up, so
	// the stop does not race the scripted agent events through the run loop.
	require.Eventually(t, func() bool {
		frameMu.Lock()
		defer frameMu.Unlock()
		for _, ev := range frames {
			if ev == "clear" {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond, "clear frame never reached the carrier")

	require.NoError(t, carrierClient.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"stop","reason":"caller hung up"}`)))
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finalize")
	}
	<-readerDone

	// The carrier must see agent audio, then the flush, and nothing after:
	// late synthesized audio is discarded, never queued behind the clear.
	frameMu.Lock()
	got := append([]string(nil), frames...)
	frameMu.Unlock()

	clearIdx := -1
	for i, ev := range got {
		if ev == "clear" {
			clearIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, clearIdx, 0, "no clear frame reached the carrier: %v", got)

	mediaBefore := 0
	for _, ev := range got[:clearIdx] {
		if ev == "media" {
			mediaBefore++
		}
	}
	assert.GreaterOrEqual(t, mediaBefore, 1, "agent audio should play before the interruption: %v", got)
	for _, ev := range got[clearIdx+1:] {
		assert.NotEqual(t, "media", ev, "no audio may follow the flush: %v", got)
	}

	assert.EqualValues(t, 1, sess.Snapshot().BargeIns)

	rec, err := db.GetCallRecord("sess-barge")
	require.NoError(t, err)
	var interrupted *memory.Turn
	for i := range rec.Transcript {
		if rec.Transcript[i].Role == memory.RoleAgent && rec.Transcript[i].Text == "Hi, how can I help you today?" {
			interrupted = &rec.Transcript[i]
			break
		}
	}
	require.NotNil(t, interrupted, "greeting turn missing from transcript")
	assert.True(t, interrupted.Truncated, "the interrupted turn must be marked, not deleted")
}
