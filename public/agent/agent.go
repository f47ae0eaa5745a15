// Package agent implements the space runtime's Agent: a named participant
// with an inbox, an action registry, and lifecycle callbacks. Agent code
// registers actions and lifecycle hooks; the space binds an Agent to a
// transport and drives its per-message lifecycle.
//
// Key Features:
// - Declarative action registration via RegisterAction, no reflection
// - send/request/respond_with/raise_with agent-facing API (spec.md §4.3)
// - Pending-request table for synchronous Request on top of async delivery
// - Self-request deadlock detection
// - new -> running -> stopping -> stopped lifecycle
//
// Called by: public/space (Start/Stop bind and unbind an Agent to/from a
// Transport), agent implementations (construction and RegisterAction)
// Calls: internal/message, internal/registry, internal/access,
// internal/transport, internal/idgen
package agent

import (
	"fmt"
	"log"
	"sync"

	"github.com/quorumhq/space/internal/access"
	"github.com/quorumhq/space/internal/idgen"
	"github.com/quorumhq/space/internal/message"
	"github.com/quorumhq/space/internal/registry"
	"github.com/quorumhq/space/internal/tracecache"
	"github.com/quorumhq/space/internal/transport"
)

// State is an Agent's position in the new -> running -> stopping -> stopped
// lifecycle (spec.md §4.3).
type State int

const (
	StateNew State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// phase tracks what the worker goroutine is currently doing. Request reads
// it to refuse calls from after_add/before_remove; recursive self-requests
// are detected separately, by comparing the target id with the agent's own.
type phase int

const (
	phaseIdle phase = iota
	phaseAfterAdd
	phaseBeforeRemove
	phaseBeforeAction
	phaseHandler
	phaseAfterAction
	phaseRequestPermission
)

// pendingResult is what a Request waiter receives: either a [response]'s
// value or an error derived from a correlated [error] reply or a timeout.
type pendingResult struct {
	value any
	err   error
}

// Agent is a live participant in a space. Construct with New, register
// actions with RegisterAction, then hand it to a space to bind and run.
type Agent struct {
	id                   string
	receiveOwnBroadcasts bool
	debug                bool

	registry *registry.Registry
	idgen    idgen.Generator

	// Lifecycle callbacks, all optional.
	AfterAdd          func(*Agent) error
	BeforeRemove      func(*Agent) error
	BeforeAction      func(*Agent, *message.Message) error
	AfterAction       func(*Agent, *message.Message, any, error)
	HandleActionValue func(*Agent, any, *message.Message)
	HandleActionError func(*Agent, *message.ActionError, *message.Message)
	RequestPermission access.PermissionFunc

	mu        sync.Mutex
	state     State
	phase     phase
	current   *message.Message // message being handled by the worker right now
	responded bool             // true once respond_with/raise_with fired for current

	transport transport.Transport
	inbox     *transport.Inbox
	trace     *tracecache.Cache // optional; nil unless WithTraceCache is set

	pendingMu sync.Mutex
	pending   map[string]chan pendingResult
}

// Option configures an Agent at construction time.
type Option func(*Agent)

// WithReceiveOwnBroadcasts controls whether a broadcast sent by this agent
// is also delivered back to it (spec.md §3 "Agent").
func WithReceiveOwnBroadcasts(receive bool) Option {
	return func(a *Agent) { a.receiveOwnBroadcasts = receive }
}

// WithDebug enables verbose per-message logging via LogDebug.
func WithDebug(debug bool) Option {
	return func(a *Agent) { a.debug = debug }
}

// WithIDGenerator overrides the default uuid-backed id generator, mainly
// for deterministic tests.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(a *Agent) { a.idgen = gen }
}

// WithAfterAdd registers the callback invoked once, after the agent joins
// a space and before it begins dispatching messages. Request is not
// usable here (the agent is not yet live on the bus); Send is.
func WithAfterAdd(fn func(*Agent) error) Option {
	return func(a *Agent) { a.AfterAdd = fn }
}

// WithBeforeRemove registers the callback invoked once, before the agent
// is unbound from its space. Same Request/Send restrictions as after_add.
func WithBeforeRemove(fn func(*Agent) error) Option {
	return func(a *Agent) { a.BeforeRemove = fn }
}

// WithBeforeAction registers the callback invoked before each dispatched
// handler; a returned error short-circuits the handler with a
// callback-error reply.
func WithBeforeAction(fn func(*Agent, *message.Message) error) Option {
	return func(a *Agent) { a.BeforeAction = fn }
}

// WithAfterAction registers the callback invoked after each dispatched
// handler, unconditionally, with its captured value and error.
func WithAfterAction(fn func(*Agent, *message.Message, any, error)) Option {
	return func(a *Agent) { a.AfterAction = fn }
}

// WithHandleActionValue registers the fire-and-forget callback for a
// [response] that arrives with no matching Request waiter.
func WithHandleActionValue(fn func(*Agent, any, *message.Message)) Option {
	return func(a *Agent) { a.HandleActionValue = fn }
}

// WithHandleActionError registers the fire-and-forget callback for an
// [error] that arrives with no matching Request waiter.
func WithHandleActionError(fn func(*Agent, *message.ActionError, *message.Message)) Option {
	return func(a *Agent) { a.HandleActionError = fn }
}

// WithRequestPermission registers the synchronous callback invoked for
// requires-confirmation actions (internal/access.Check).
func WithRequestPermission(fn access.PermissionFunc) Option {
	return func(a *Agent) { a.RequestPermission = fn }
}

// WithTraceCache enables bounded in-memory tracing of every message this
// agent handles, recorded into cache under the agent's own id. Intended
// for debugging and introspection; nothing in dispatch depends on it.
func WithTraceCache(cache *tracecache.Cache) Option {
	return func(a *Agent) { a.trace = cache }
}

// New constructs an Agent and registers its built-in help action
// unconditionally, before any caller registrations — grounded in the
// teacher's fixed-setup-steps-in-order construction style (NewBaseAgent).
func New(id string, opts ...Option) (*Agent, error) {
	if id == "" {
		return nil, fmt.Errorf("agent: id must not be empty")
	}
	if id == message.Broadcast {
		return nil, fmt.Errorf("agent: id %q is reserved", message.Broadcast)
	}

	a := &Agent{
		id:       id,
		registry: registry.New(),
		idgen:    idgen.Default,
		pending:  make(map[string]chan pendingResult),
		state:    StateNew,
	}

	if err := a.registerHelp(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// ID returns the agent's unique identifier.
func (a *Agent) ID() string { return a.id }

// ReceiveOwnBroadcasts reports whether this agent opted into seeing its
// own broadcasts.
func (a *Agent) ReceiveOwnBroadcasts() bool { return a.receiveOwnBroadcasts }

// State returns the agent's current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// RegisterAction adds a new action to this agent's registry. It fails if
// the name is already taken — registering two actions with the same name
// is a construction-time error, never a silent overwrite (spec.md §4.2).
func (a *Agent) RegisterAction(d registry.Descriptor) error {
	return a.registry.Register(d)
}

// Actions returns the agent's introspected action registry, the same
// shape its built-in help action reports for a no-argument call. Used by
// public/space to build the space-wide aggregate introspection action.
func (a *Agent) Actions() map[string]registry.Entry {
	return a.registry.Entries()
}

// CurrentMessage returns the message currently being handled. Valid only
// during a handler invocation or one of its surrounding callbacks.
func (a *Agent) CurrentMessage() (*message.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil, false
	}
	cur := *a.current
	return &cur, true
}

func (a *Agent) setPhase(p phase) {
	a.mu.Lock()
	a.phase = p
	a.mu.Unlock()
}

func (a *Agent) getPhase() phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

func (a *Agent) setCurrent(msg *message.Message) {
	a.mu.Lock()
	a.current = msg
	a.responded = false
	a.mu.Unlock()
}

func (a *Agent) clearCurrent() {
	a.mu.Lock()
	a.current = nil
	a.mu.Unlock()
}

func (a *Agent) markResponded() {
	a.mu.Lock()
	a.responded = true
	a.mu.Unlock()
}

func (a *Agent) alreadyResponded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.responded
}

// recordTrace appends msg to the agent's trace cache, if one was wired via
// WithTraceCache. A no-op otherwise.
func (a *Agent) recordTrace(msg *message.Message) {
	if a.trace == nil {
		return
	}
	msgID, _ := message.ID(msg)
	parentID, _ := message.ParentID(msg)
	a.trace.Record(a.id, tracecache.Entry{
		MessageID:  msgID,
		ParentID:   parentID,
		From:       msg.From,
		To:         msg.To,
		ActionName: msg.Action.Name,
	})
}

// Trace returns this agent's recent traced message history, oldest first,
// or nil if no trace cache was wired via WithTraceCache.
func (a *Agent) Trace() []tracecache.Entry {
	if a.trace == nil {
		return nil
	}
	return a.trace.Recent(a.id)
}

// LogInfo logs an informational message tagged with the agent's id.
func (a *Agent) LogInfo(format string, args ...any) {
	log.Printf("agent %s: "+format, append([]any{a.id}, args...)...)
}

// LogDebug logs a debug message tagged with the agent's id, only when
// debug logging is enabled via WithDebug.
func (a *Agent) LogDebug(format string, args ...any) {
	if a.debug {
		log.Printf("agent %s [debug]: "+format, append([]any{a.id}, args...)...)
	}
}

// LogError logs an error message tagged with the agent's id.
func (a *Agent) LogError(format string, args ...any) {
	log.Printf("agent %s [error]: "+format, append([]any{a.id}, args...)...)
}
