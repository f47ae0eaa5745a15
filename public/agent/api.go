package agent

import (
	"fmt"
	"time"

	"github.com/quorumhq/space/internal/message"
)

// Send stamps, validates, and publishes partial, returning its assigned
// meta.id. If called while handling another message, meta.parent_id is set
// to that message's id unless partial already supplies one (spec.md §3:
// "meta.parent_id is present ... on messages produced during the handling
// of another message"). A partial that already carries a non-empty From is
// rejected with a schema-error — From is assigned here, never by the
// caller. Validation failures return synchronously and nothing is
// published.
func (a *Agent) Send(partial message.Message) (string, error) {
	msg := a.withImplicitParent(partial)

	if err := message.ValidatePartial(&msg); err != nil {
		return "", err
	}
	stamped := message.Stamp(msg, a.id, a.idgen)
	if err := message.Validate(&stamped); err != nil {
		return "", err
	}

	if a.transport == nil {
		return "", fmt.Errorf("agent %q: not bound to a space", a.id)
	}
	if err := a.transport.Publish(stamped); err != nil {
		return "", err
	}

	id, _ := message.ID(&stamped)
	return id, nil
}

// Request sends partial and synchronously awaits its correlated
// [response] (returned as value) or [error] (raised as *message.ActionError),
// or raises a timeout error if neither arrives within timeout. Disallowed
// from after_add/before_remove, and a request targeting the calling agent's
// own id is rejected immediately as a recursive request — the agent's
// single worker would otherwise block forever waiting for a reply only
// itself could produce.
func (a *Agent) Request(partial message.Message, timeout time.Duration) (any, error) {
	switch a.getPhase() {
	case phaseAfterAdd, phaseBeforeRemove:
		return nil, fmt.Errorf("agent %q: request is not allowed from after_add/before_remove", a.id)
	}
	if partial.To == a.id {
		return nil, &message.ActionError{
			Kind:    message.ErrRecursiveReq,
			Message: fmt.Sprintf("agent %q: recursive request to self", a.id),
		}
	}

	msg := a.withImplicitParent(partial)
	if err := message.ValidatePartial(&msg); err != nil {
		return nil, err
	}
	stamped := message.Stamp(msg, a.id, a.idgen)
	if err := message.Validate(&stamped); err != nil {
		return nil, err
	}
	if a.transport == nil {
		return nil, fmt.Errorf("agent %q: not bound to a space", a.id)
	}

	reqID, _ := message.ID(&stamped)
	waiter := make(chan pendingResult, 1)

	// Register the waiter before publishing to avoid racing a fast reply.
	a.pendingMu.Lock()
	a.pending[reqID] = waiter
	a.pendingMu.Unlock()

	if err := a.transport.Publish(stamped); err != nil {
		a.pendingMu.Lock()
		delete(a.pending, reqID)
		a.pendingMu.Unlock()
		return nil, err
	}

	select {
	case res := <-waiter:
		if res.err != nil {
			return nil, res.err
		}
		return res.value, nil
	case <-time.After(timeout):
		a.pendingMu.Lock()
		delete(a.pending, reqID)
		a.pendingMu.Unlock()
		return nil, &message.ActionError{
			Kind:    message.ErrTimeout,
			Message: fmt.Sprintf("request %q to %q timed out after %s", reqID, partial.To, timeout),
		}
	}
}

// RespondWith sends a [response] action to the from of the message
// currently being handled, with args.value carrying value and
// meta.parent_id correlating to that message. Callable multiple times per
// handler invocation; any call suppresses the automatic [response] the
// runtime would otherwise send for the handler's return value.
func (a *Agent) RespondWith(value any) error {
	current, ok := a.currentRaw()
	if !ok {
		return fmt.Errorf("agent %q: respond_with called with no message being handled", a.id)
	}
	a.sendReply(*current, message.ActionResponse, map[string]any{"value": value})
	return nil
}

// RaiseWith sends an [error] action to the from of the message currently
// being handled, with args.type set to kind and args.message set to msg.
func (a *Agent) RaiseWith(kind message.ErrorKind, msg string) error {
	current, ok := a.currentRaw()
	if !ok {
		return fmt.Errorf("agent %q: raise_with called with no message being handled", a.id)
	}
	a.sendReply(*current, message.ActionErrorName, map[string]any{"type": string(kind), "message": msg})
	return nil
}

func (a *Agent) currentRaw() (*message.Message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil, false
	}
	return a.current, true
}

// withImplicitParent copies partial and, if it doesn't already carry a
// parent_id and the agent is currently handling a message, stamps that
// message's id as the new message's parent_id.
func (a *Agent) withImplicitParent(partial message.Message) message.Message {
	current, ok := a.currentRaw()
	if !ok {
		return partial
	}
	if _, has := message.ParentID(&partial); has {
		return partial
	}
	parentID, ok := message.ID(current)
	if !ok {
		return partial
	}
	return message.WithParent(partial, parentID)
}
