// Package wamp implements the subset of the WAMP v2 JSON protocol a
// publisher and subscriber need, on top of coder/websocket.
package wamp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Subprotocol is the websocket subprotocol negotiated with the router.
const Subprotocol = "wamp.2.json"

// Message type codes.
const (
	codeHello      = 1
	codeWelcome    = 2
	codeAbort      = 3
	codeGoodbye    = 6
	codeError      = 8
	codePublish    = 16
	codePublished  = 17
	codeSubscribe  = 32
	codeSubscribed = 33
	codeEvent      = 36
)

const (
	reasonCloseRealm    = "wamp.close.close_realm"
	reasonGoodbyeAndOut = "wamp.close.goodbye_and_out"
)

// ErrProtocol reports a frame that does not follow the protocol.
var ErrProtocol = errors.New("wamp protocol violation")

// Error is an ERROR or ABORT sent by the router.
type Error struct {
	URI  string
	Args []any
}

func (e *Error) Error() string {
	if len(e.Args) > 0 {
		return fmt.Sprintf("%s: %v", e.URI, e.Args[0])
	}
	return e.URI
}

// clientRoles advertises the roles sent in HELLO.
var clientRoles = map[string]any{
	"roles": map[string]any{
		"publisher":  map[string]any{},
		"subscriber": map[string]any{},
	},
}

func helloMsg(realm string) []any {
	return []any{codeHello, realm, clientRoles}
}

func goodbyeMsg(reason string) []any {
	return []any{codeGoodbye, map[string]any{}, reason}
}

func publishMsg(req uint64, topic string, payload any) []any {
	return []any{codePublish, req, map[string]any{"acknowledge": true}, topic, []any{payload}}
}

func subscribeMsg(req uint64, topic string) []any {
	return []any{codeSubscribe, req, map[string]any{}, topic}
}

// frame is a decoded message: its type code and the raw remaining fields.
type frame struct {
	code   int
	fields []json.RawMessage
}

func decodeFrame(raw []json.RawMessage) (frame, error) {
	if len(raw) == 0 {
		return frame{}, fmt.Errorf("%w: empty message", ErrProtocol)
	}
	var code int
	if err := json.Unmarshal(raw[0], &code); err != nil {
		return frame{}, fmt.Errorf("%w: message type: %v", ErrProtocol, err)
	}
	return frame{code: code, fields: raw[1:]}, nil
}

// need ensures f carries at least n fields after the type code.
func (f frame) need(n int) error {
	if len(f.fields) < n {
		return fmt.Errorf("%w: message %d has %d fields, want %d", ErrProtocol, f.code, len(f.fields), n)
	}
	return nil
}

func (f frame) id(i int) (uint64, error) {
	n, err := strconv.ParseUint(string(f.fields[i]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %d of message %d is not an id", ErrProtocol, i+1, f.code)
	}
	return n, nil
}

func (f frame) str(i int) (string, error) {
	var s string
	if err := json.Unmarshal(f.fields[i], &s); err != nil {
		return "", fmt.Errorf("%w: field %d of message %d is not a string", ErrProtocol, i+1, f.code)
	}
	return s, nil
}

// optional decodes field i into v when present.
func (f frame) optional(i int, v any) error {
	if i >= len(f.fields) {
		return nil
	}
	if err := json.Unmarshal(f.fields[i], v); err != nil {
		return fmt.Errorf("%w: field %d of message %d: %v", ErrProtocol, i+1, f.code, err)
	}
	return nil
}

// routerError builds an Error from an ABORT [3, details, reason] or an
// ERROR [8, type, request, details, uri, args?].
func (f frame) routerError() *Error {
	uriField, argsField := 1, -1
	if f.code == codeError {
		uriField, argsField = 3, 4
	}

	e := &Error{URI: "wamp.error.unknown"}
	if len(f.fields) > uriField {
		if s, err := f.str(uriField); err == nil {
			e.URI = s
		}
	}
	if argsField > 0 {
		_ = f.optional(argsField, &e.Args)
	}
	return e
}
