// Package access implements the access control gate: the decision
// procedure that classifies an inbound invocation as permitted, denied, or
// requiring synchronous confirmation from the target agent.
//
// Called by: public/agent, once per dispatched message, after the action
// handler is looked up and before before_action runs.
// Calls: the target agent's RequestPermission callback, for
// requires-confirmation actions only.
package access

import (
	"fmt"

	"github.com/quorumhq/space/internal/message"
	"github.com/quorumhq/space/internal/registry"
)

// Decision is the gate's verdict for one invocation.
type Decision int

const (
	Allow Decision = iota
	Deny
	DenyWithCallbackError
)

// PermissionFunc is the agent-supplied callback invoked for
// requires-confirmation actions. It may block the caller; that is
// intentional, per spec.md §4.5.
type PermissionFunc func(proposed *message.Message) (bool, error)

// Check applies the three-way policy decision procedure of spec.md §4.5.
// requestPermission may be nil if the agent never declares a
// requires-confirmation action; calling Check with a nil callback on a
// requires-confirmation policy is itself a callback error.
func Check(policy registry.AccessPolicy, msg *message.Message, requestPermission PermissionFunc) (Decision, error) {
	switch policy {
	case registry.Permitted, "":
		return Allow, nil
	case registry.Denied:
		return Deny, nil
	case registry.RequiresConfirmation:
		if requestPermission == nil {
			return DenyWithCallbackError, fmt.Errorf("access: requires-confirmation action with no RequestPermission callback")
		}
		allowed, err := requestPermission(msg)
		if err != nil {
			return DenyWithCallbackError, err
		}
		if allowed {
			return Allow, nil
		}
		return Deny, nil
	default:
		return DenyWithCallbackError, fmt.Errorf("access: unknown access policy %q", policy)
	}
}
