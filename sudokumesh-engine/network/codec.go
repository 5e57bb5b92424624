package network

import (
	"bytes"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

// MaxNetworkMessageSize bounds a single datagram. A full grid request with a
// few dozen addresses in its seen-list fits comfortably.
const MaxNetworkMessageSize = 64 * 1024

// Codec errors
var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownCommand = errors.New("unknown command")
	ErrMessageTooBig  = errors.New("message exceeds maximum datagram size")
)

// MalformedError carries the raw payload that failed to decode.
type MalformedError struct {
	Payload []byte
	Err     error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed message (%d bytes): %v", len(e.Payload), e.Err)
}

func (e *MalformedError) Unwrap() []error {
	return []error{ErrMalformed, e.Err}
}

var registry = map[Command]func() Message{
	CmdJoinRequest:    func() Message { return &JoinRequest{} },
	CmdJoinAnswer:     func() Message { return &JoinAnswer{} },
	CmdUpdate:         func() Message { return &Update{} },
	CmdNodeRequest:    func() Message { return &NodeRequest{} },
	CmdNodeAnswer:     func() Message { return &NodeAnswer{} },
	CmdNodeDown:       func() Message { return &NodeDown{} },
	CmdAlive:          func() Message { return &Alive{} },
	CmdStatsRequest:   func() Message { return &StatsRequest{} },
	CmdStatsAnswer:    func() Message { return &StatsAnswer{} },
	CmdStatsHistory:   func() Message { return &StatsHistory{} },
	CmdNetworkRequest: func() Message { return &NetworkRequest{} },
	CmdNetworkAnswer:  func() Message { return &NetworkAnswer{} },
	CmdSolveRequest:   func() Message { return &SolveRequest{} },
	CmdSolveAnswer:    func() Message { return &SolveAnswer{} },
	CmdSolved:         func() Message { return &Solved{} },
}

// Encode serializes msg as a JSON object whose "command" field tags the kind.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", msg.Command(), err)
	}

	tag, err := json.Marshal(string(msg.Command()))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(tag) + 12)
	buf.WriteString(`{"command":`)
	buf.Write(tag)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')

	if buf.Len() > MaxNetworkMessageSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrMessageTooBig, msg.Command(), buf.Len())
	}
	return buf.Bytes(), nil
}

// Decode parses a payload produced by Encode. Undecodable payloads yield a
// *MalformedError; well-formed payloads with an unrecognised command yield
// ErrUnknownCommand.
func Decode(payload []byte) (Message, error) {
	if len(payload) > MaxNetworkMessageSize {
		return nil, &MalformedError{Payload: payload, Err: ErrMessageTooBig}
	}

	var header struct {
		Command *string `json:"command"`
	}
	if err := json.Unmarshal(payload, &header); err != nil {
		return nil, &MalformedError{Payload: payload, Err: err}
	}
	if header.Command == nil {
		return nil, &MalformedError{Payload: payload, Err: errors.New("missing command field")}
	}

	newMsg, ok := registry[Command(*header.Command)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, *header.Command)
	}

	msg := newMsg()
	if err := json.Unmarshal(payload, msg); err != nil {
		return nil, &MalformedError{Payload: payload, Err: err}
	}
	return msg, nil
}
