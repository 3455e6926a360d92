package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Server events.
const (
	EventSessionStarted  = "session.started"
	EventAgentText       = "agent.text"
	EventAgentAudioEnd   = "agent.audio.end"
	EventUserTranscript  = "user.transcript"
	EventError           = "error"
	EventServerShutdown  = "server.shutdown"
	EventContentReloaded = "content.reloaded"
)

// Client events.
const (
	EventUserText   = "user.text"
	EventSessionEnd = "session.end"
)

// Error codes carried in error events.
const (
	CodeBadRequest   = "bad_request"
	CodeRateLimited  = "rate_limited"
	CodeTurnFailed   = "turn_failed"
	CodeSpeechFailed = "speech_failed"
	CodeNoSpeech     = "speech_unavailable"
)

// EventMessage is a server-initiated JSON frame.
type EventMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Seq       int64       `json:"seq"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Session   string      `json:"session_key,omitempty"`
}

// ClientMessage is a JSON frame sent by the caller.
type ClientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientInfo describes a connected caller.
type ClientInfo struct {
	ID           string    `json:"id"`
	Persona      string    `json:"persona"`
	SessionKey   string    `json:"session_key"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	IPAddress    string    `json:"ip_address"`
	Idle         bool      `json:"idle"`
}

// ClientState is the lifecycle state of a call connection.
type ClientState int32

const (
	StateConnecting ClientState = iota
	StateInCall
	StateClosing
)

// Client is one websocket call. Writes are serialized; gorilla connections
// allow one concurrent writer.
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Persona      string
	SessionKey   string
	ConnectedAt  time.Time
	LastActivity time.Time
	IPAddress    string
	Limiter      *TurnLimiter

	state  atomic.Int32
	seq    atomic.Int64
	cancel context.CancelFunc

	writeMu sync.Mutex
}

func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

func (c *Client) setState(state ClientState) {
	c.state.Store(int32(state))
}

// Send writes an event frame with the next sequence number.
func (c *Client) Send(event string, data interface{}) error {
	msg := EventMessage{
		Type:      "event",
		Event:     event,
		Seq:       c.seq.Add(1),
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		Session:   c.SessionKey,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, payload)
}

// SendError writes an error event.
func (c *Client) SendError(code, message string) error {
	return c.Send(EventError, ErrorData{Code: code, Message: message})
}

// SendAudio writes one binary WAV frame.
func (c *Client) SendAudio(wav []byte) error {
	return c.write(websocket.BinaryMessage, wav)
}

func (c *Client) write(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Conn.WriteMessage(messageType, payload)
}

func (c *Client) close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.writeMu.Lock()
	_ = c.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.Conn.Close()
}
