// Package message defines the canonical wire message that flows through a
// space: its shape, validation rules, and the send-time stamping step that
// assigns identity.
//
// Key Features:
// - Canonical Message/Action shape shared by every transport
// - Structural validation before a message ever leaves its sender
// - Send-time stamping of from/meta.id, preserving caller-supplied meta
// - The short error-kind tags carried on [error] replies
//
// Called by: public/agent (send/request/respond_with/raise_with),
// internal/transport (local and AMQP delivery)
// Calls: none (ids come from the generator the caller passes to Stamp;
// encoding/json is used only through the struct tags)
package message

import "fmt"

// Broadcast is the reserved "to" value meaning "every agent in the space".
const Broadcast = "*"

// Reserved action names for the response/error reply protocol.
const (
	ActionResponse  = "[response]"
	ActionErrorName = "[error]"
)

// Reserved meta keys, auto-populated by the space and never forgeable by
// the caller.
const (
	MetaID       = "id"
	MetaParentID = "parent_id"
)

// Action is a named operation invocation: a handler name plus its
// arguments. Args is a free-form mapping; the core never interprets its
// contents beyond structural validation and name-based binding.
type Action struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is the single value that flows between agents in a space.
//
// Invariants: To, Action.Name, and Action.Args are always present. From is
// present after send-time stamping. Meta[MetaID] is present after send-time
// stamping. Meta[MetaParentID] is present on replies and on messages
// produced while handling another message. Unknown meta keys pass through
// unchanged — the core never strips or interprets them.
type Message struct {
	Meta   map[string]any `json:"meta"`
	From   string         `json:"from"`
	To     string         `json:"to"`
	Action Action         `json:"action"`
}

// ErrorKind is the short tag carried in an [error] reply's args.type.
type ErrorKind string

// Error kinds the core itself emits. Handler code may raise any other
// string via RaiseWith; these are reserved for core-detected conditions.
const (
	ErrSchema        ErrorKind = "schema-error"
	ErrNoSuchAgent   ErrorKind = "no-such-agent"
	ErrNoSuchAction  ErrorKind = "no-such-action"
	ErrAccessDenied  ErrorKind = "access-denied"
	ErrCallbackError ErrorKind = "callback-error"
	ErrHandlerError  ErrorKind = "handler-error"
	ErrTimeout       ErrorKind = "timeout"
	ErrSpaceClosed   ErrorKind = "space-closed"
	ErrRecursiveReq  ErrorKind = "recursive-request"
)

// SchemaError reports why a message failed validation. It is returned
// synchronously by Send/Request and never reaches the transport.
type SchemaError struct {
	Field   string
	Message string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema-error: %s: %s", e.Field, e.Message)
}

// ActionError is the Go error type Request returns locally when the
// correlated reply is an [error] action, when the request times out, when
// it targets the calling agent itself, or when shutdown cancels it. It is
// also what HandleActionError callbacks receive.
type ActionError struct {
	Kind    ErrorKind
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validate checks the structural invariants spec.md §4.1 requires: To and
// Action.Name are non-empty strings, Action.Args is non-nil, and any
// reserved meta keys present have the right type.
func Validate(msg *Message) error {
	if msg.To == "" {
		return &SchemaError{Field: "to", Message: "must be a non-empty string"}
	}
	if msg.Action.Name == "" {
		return &SchemaError{Field: "action.name", Message: "must be a non-empty string"}
	}
	if msg.Action.Args == nil {
		return &SchemaError{Field: "action.args", Message: "must be a mapping (possibly empty)"}
	}
	if msg.Meta != nil {
		if v, ok := msg.Meta[MetaID]; ok {
			if _, isString := v.(string); !isString {
				return &SchemaError{Field: "meta.id", Message: "must be a string"}
			}
		}
		if v, ok := msg.Meta[MetaParentID]; ok {
			if _, isString := v.(string); !isString {
				return &SchemaError{Field: "meta.parent_id", Message: "must be a string"}
			}
		}
	}
	return nil
}

// ValidatePartial validates msg the way Validate does, plus the one rule
// that only applies before Stamp has run: From must not already be set.
// From is assigned exclusively by Stamp, so a caller-supplied partial that
// already carries one is forged (or a stale reused message) and is
// rejected here rather than silently overwritten.
func ValidatePartial(msg *Message) error {
	if msg.From != "" {
		return &SchemaError{Field: "from", Message: "must not be set by the caller; it is assigned at send time"}
	}
	return Validate(msg)
}

// Stamp fills From with the sender's id and assigns a fresh Meta[MetaID],
// preserving any caller-supplied meta (including a caller-supplied
// parent_id, used when an agent replies while itself handling a message).
// The caller may not forge From — this is the only place it is ever set.
func Stamp(msg Message, from string, gen interface{ NewID() string }) Message {
	stamped := msg
	stamped.From = from

	meta := make(map[string]any, len(msg.Meta)+1)
	for k, v := range msg.Meta {
		meta[k] = v
	}
	meta[MetaID] = gen.NewID()
	stamped.Meta = meta

	return stamped
}

// WithParent returns a copy of msg with Meta[MetaParentID] set to
// parentID, used to correlate [response]/[error] replies and any message
// produced while handling another.
func WithParent(msg Message, parentID string) Message {
	out := msg
	meta := make(map[string]any, len(msg.Meta)+1)
	for k, v := range msg.Meta {
		meta[k] = v
	}
	meta[MetaParentID] = parentID
	out.Meta = meta
	return out
}

// ParentID extracts Meta[MetaParentID] if present and a string.
func ParentID(msg *Message) (string, bool) {
	if msg.Meta == nil {
		return "", false
	}
	v, ok := msg.Meta[MetaParentID]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ID extracts Meta[MetaID] if present and a string.
func ID(msg *Message) (string, bool) {
	if msg.Meta == nil {
		return "", false
	}
	v, ok := msg.Meta[MetaID]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
