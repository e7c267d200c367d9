package deriv

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrTransportNotReady = errors.New("deriv: transport not ready")
	ErrAlreadyConnected  = errors.New("deriv: connect called twice")
)

// ConnectionError is a transport failure while opening or using the socket.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("deriv: connection to %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RemoteError is the error object of a correlated upstream response.
// Payload is the object exactly as received.
type RemoteError struct {
	Code    string
	Message string
	Payload json.RawMessage
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("deriv: remote error %s: %s", e.Code, e.Message)
}

// State is the lifecycle state of a Client connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Request is an outbound payload. The client injects req_id.
type Request map[string]any

// Response is an inbound message correlated to a request or subscription.
type Response struct {
	ReqID   int64
	MsgType string
	Raw     json.RawMessage

	err *RemoteError
}

// Err returns the *RemoteError carried by the response, or nil.
func (r Response) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Decode unmarshals the named top-level field of the response into v.
func (r Response) Decode(field string, v any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(r.Raw, &fields); err != nil {
		return err
	}
	raw, ok := fields[field]
	if !ok {
		return fmt.Errorf("deriv: response has no %q field", field)
	}
	return json.Unmarshal(raw, v)
}

// PushFunc receives every push for a subscription, in arrival order.
type PushFunc func(Response)

// envelope is the part of every inbound message the dispatcher inspects.
type envelope struct {
	ReqID   *int64          `json:"req_id"`
	MsgType string          `json:"msg_type"`
	Error   json.RawMessage `json:"error"`
}

func (e envelope) remoteError() *RemoteError {
	if len(e.Error) == 0 || string(e.Error) == "null" {
		return nil
	}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(e.Error, &body)
	return &RemoteError{Code: body.Code, Message: body.Message, Payload: e.Error}
}

// ClientConfig configures a Client.
type ClientConfig struct {
	URL              string        // full websocket URL including app_id
	HandshakeTimeout time.Duration // bound on the opening handshake
	WriteTimeout     time.Duration // write deadline for each frame
	RequestTimeout   time.Duration // applied by the API helpers when ctx has no deadline
}

// DefaultClientConfig returns sensible defaults for url.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		RequestTimeout:   30 * time.Second,
	}
}
