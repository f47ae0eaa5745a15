package agent

import (
	"errors"
	"fmt"

	"github.com/quorumhq/space/internal/access"
	"github.com/quorumhq/space/internal/message"
	"github.com/quorumhq/space/internal/registry"
	"github.com/quorumhq/space/internal/transport"
)

// Start binds the agent to tr via inbox, runs after_add, transitions the
// agent to running, and launches its single worker goroutine. Request is
// disallowed during after_add (the agent is not yet live on the bus); Send
// is allowed.
func (a *Agent) Start(tr transport.Transport, inbox *transport.Inbox) error {
	a.mu.Lock()
	if a.state != StateNew {
		a.mu.Unlock()
		return fmt.Errorf("agent %q: Start called in state %s", a.id, a.state)
	}
	a.transport = tr
	a.inbox = inbox
	a.phase = phaseAfterAdd
	a.mu.Unlock()

	var err error
	if a.AfterAdd != nil {
		err = a.AfterAdd(a)
	}

	a.mu.Lock()
	a.phase = phaseIdle
	if err == nil {
		a.state = StateRunning
	}
	a.mu.Unlock()

	if err != nil {
		return fmt.Errorf("agent %q: after_add: %w", a.id, err)
	}

	go a.run()
	return nil
}

// Stop runs before_remove, lets any in-flight handler finish, refuses
// further dispatch, and cancels outstanding Request waiters with a
// space-closed error. Idempotent.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if a.state == StateStopping || a.state == StateStopped {
		a.mu.Unlock()
		return nil
	}
	a.state = StateStopping
	a.phase = phaseBeforeRemove
	a.mu.Unlock()

	var err error
	if a.BeforeRemove != nil {
		err = a.BeforeRemove(a)
	}

	a.mu.Lock()
	a.phase = phaseIdle
	a.mu.Unlock()

	if a.transport != nil {
		if rmErr := a.transport.RemoveAgent(a.id); rmErr != nil && err == nil {
			err = rmErr
		}
	}

	a.cancelAllPending(&message.ActionError{
		Kind:    message.ErrSpaceClosed,
		Message: fmt.Sprintf("agent %q: space closed", a.id),
	})

	if a.trace != nil {
		a.trace.Clear(a.id)
	}

	a.mu.Lock()
	a.state = StateStopped
	a.mu.Unlock()

	return err
}

// run is the agent's single worker goroutine: dequeue strictly in FIFO
// order from the inbox, handling one message at a time, until the inbox's
// Done channel closes (agent removed or space shut down).
func (a *Agent) run() {
	for {
		select {
		case msg, ok := <-a.inbox.Messages:
			if !ok {
				return
			}
			a.handle(msg)
		case <-a.inbox.Done:
			return
		}
	}
}

// handle implements the eight-step per-message lifecycle of spec.md §4.3.
func (a *Agent) handle(msg message.Message) {
	a.recordTrace(&msg)

	if msg.Action.Name == message.ActionResponse || msg.Action.Name == message.ActionErrorName {
		a.routeReply(msg)
		return
	}

	descriptor, found := a.registry.Lookup(msg.Action.Name)
	if !found {
		if msg.To == message.Broadcast {
			return
		}
		a.replyError(msg, message.ErrNoSuchAction, fmt.Sprintf("agent %q has no action %q", a.id, msg.Action.Name))
		return
	}

	decision, permErr := access.Check(descriptor.Access, &msg, a.RequestPermission)
	switch decision {
	case access.Deny:
		a.replyError(msg, message.ErrAccessDenied, fmt.Sprintf("action %q is denied", msg.Action.Name))
		return
	case access.DenyWithCallbackError:
		a.replyError(msg, message.ErrCallbackError, permErr.Error())
		return
	}

	a.setCurrent(&msg)
	defer a.clearCurrent()

	if a.BeforeAction != nil {
		a.setPhase(phaseBeforeAction)
		if err := a.BeforeAction(a, &msg); err != nil {
			a.setPhase(phaseIdle)
			a.replyError(msg, message.ErrCallbackError, err.Error())
			return
		}
		a.setPhase(phaseIdle)
	}

	a.setPhase(phaseHandler)
	value, handlerErr := invokeHandler(descriptor.Handler, msg.Action.Args)
	a.setPhase(phaseIdle)

	if a.AfterAction != nil {
		a.setPhase(phaseAfterAction)
		a.AfterAction(a, &msg, value, handlerErr)
		a.setPhase(phaseIdle)
	}

	if handlerErr != nil {
		kind := message.ErrHandlerError
		var actionErr *message.ActionError
		if errors.As(handlerErr, &actionErr) {
			kind = actionErr.Kind
		}
		a.replyError(msg, kind, handlerErr.Error())
		return
	}

	if !a.alreadyResponded() {
		a.sendReply(msg, message.ActionResponse, map[string]any{"value": value})
	}
}

// invokeHandler calls h, converting a panic into a handler-error return
// rather than crashing the agent's worker goroutine — grounded in the
// teacher's recover() guard in internal/client/broker.go's messageListener.
func invokeHandler(h registry.Handler, args map[string]any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(args)
}

// routeReply handles an inbound [response]/[error]: complete the pending
// waiter if one is registered for meta.parent_id, otherwise hand it to the
// fire-and-forget HandleActionValue/HandleActionError callback if set.
func (a *Agent) routeReply(msg message.Message) {
	parentID, ok := message.ParentID(&msg)
	if !ok {
		return
	}

	a.pendingMu.Lock()
	waiter, found := a.pending[parentID]
	if found {
		delete(a.pending, parentID)
	}
	a.pendingMu.Unlock()

	if found {
		waiter <- replyResult(msg)
		return
	}

	res := replyResult(msg)
	if res.err != nil {
		if a.HandleActionError != nil {
			var actionErr *message.ActionError
			errors.As(res.err, &actionErr)
			a.HandleActionError(a, actionErr, &msg)
		}
		return
	}
	if a.HandleActionValue != nil {
		a.HandleActionValue(a, res.value, &msg)
	}
}

func replyResult(msg message.Message) pendingResult {
	if msg.Action.Name == message.ActionErrorName {
		kind, _ := msg.Action.Args["type"].(string)
		m, _ := msg.Action.Args["message"].(string)
		return pendingResult{err: &message.ActionError{Kind: message.ErrorKind(kind), Message: m}}
	}
	return pendingResult{value: msg.Action.Args["value"]}
}

func (a *Agent) cancelAllPending(err error) {
	a.pendingMu.Lock()
	pending := a.pending
	a.pending = make(map[string]chan pendingResult)
	a.pendingMu.Unlock()

	for _, waiter := range pending {
		waiter <- pendingResult{err: err}
	}
}

// sendReply publishes a [response]/[error] addressed to orig.From,
// correlated to orig's meta.id via meta.parent_id. Failures are logged and
// dropped, matching spec.md §7's "errors inside the core are logged and
// the affected message is dropped" propagation policy.
func (a *Agent) sendReply(orig message.Message, actionName string, args map[string]any) {
	origID, _ := message.ID(&orig)

	reply := message.Message{
		To:     orig.From,
		Action: message.Action{Name: actionName, Args: args},
	}
	reply = message.WithParent(reply, origID)

	stamped := message.Stamp(reply, a.id, a.idgen)
	if err := message.Validate(&stamped); err != nil {
		a.LogError("dropped malformed reply to %q: %v", orig.From, err)
		return
	}
	if a.transport == nil {
		a.LogError("dropped reply to %q: not bound to a transport", orig.From)
		return
	}
	if err := a.transport.Publish(stamped); err != nil {
		a.LogError("failed to publish reply to %q: %v", orig.From, err)
		return
	}
	a.markResponded()
}

func (a *Agent) replyError(orig message.Message, kind message.ErrorKind, errMsg string) {
	a.sendReply(orig, message.ActionErrorName, map[string]any{"type": string(kind), "message": errMsg})
}
