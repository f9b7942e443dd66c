package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/frontdesk-ai/frontdesk/pkg/dispatch"
)

const writeTimeout = 5 * time.Second

// Conn is one live connection to the speech-agent service.
type Conn struct {
	ws wsConn

	writeMu sync.Mutex
	closed  bool
}

type wsConn interface {
	ReadMessage() (int, []byte, error)
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens agent connections. Sessions hold a Dialer rather than a
// Conn so the resilience supervisor can re-dial mid-call.
type Dialer struct {
	URL    string
	APIKey string
}

// Dial opens the websocket and returns a connection ready for Setup.
func (d Dialer) Dial(ctx context.Context) (*Conn, error) {
	header := http.Header{}
	if d.APIKey != "" {
		header.Set("Authorization", "Bearer "+d.APIKey)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// NewConn wraps an established websocket. Tests use this with a fake.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// ReadEvent returns the next decoded agent event.
func (c *Conn) ReadEvent() (any, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return DecodeEvent(data)
}

// SendSetup declares audio formats, tools, and behavioral parameters.
// Must be the first message on the connection.
func (c *Conn) SendSetup(setup Setup) error {
	setup.Type = "session.setup"
	return c.writeJSON(setup)
}

// SendAudio forwards one caller audio chunk.
func (c *Conn) SendAudio(seq int64, dataB64 string) error {
	return c.writeJSON(AudioAppend{Type: "audio.append", Seq: seq, DataB64: dataB64})
}

// SendFunctionResult returns a dispatch result on the same connection the
// request arrived on.
func (c *Conn) SendFunctionResult(res dispatch.Result) error {
	return c.writeJSON(FunctionResultMsg{
		Type:          "function.result",
		CorrelationID: res.CorrelationID,
		OK:            res.OK,
		Payload:       res.Payload,
		ErrorCode:     res.ErrorCode,
		Message:       res.Message,
	})
}

// SendClose asks the agent to end the session.
func (c *Conn) SendClose(reason string) error {
	return c.writeJSON(SessionClose{Type: "session.close", Reason: reason})
}

// Close tears the websocket down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}

func (c *Conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
