// Package transport implements the space transport abstraction: a uniform
// interface for adding/removing agents and publishing messages, with two
// implementations — an in-process local transport and a network transport
// backed by AMQP. Both honor identical addressing and ordering semantics
// (spec.md §4.4's equivalence guarantee).
//
// Key Features:
// - Uniform Transport interface shared by Local and AMQP
// - Broadcast fan-out vs point-to-point single delivery
// - Per-(sender,recipient) FIFO ordering, enforced by delivering inline on
//   the sender's own goroutine rather than through a reordering worker pool
// - Graceful per-agent removal and whole-transport shutdown without
//   send-on-closed-channel races
//
// Called by: public/agent (Runtime binds to a Transport at construction),
// public/space (chooses which Transport implementation to wire up)
// Calls: github.com/rabbitmq/amqp091-go (amqp.go only)
package transport

import "github.com/quorumhq/space/internal/message"

// Inbox is what AddAgent hands back to a newly bound agent: a channel of
// delivered messages plus a Done channel that closes when the agent is
// removed or the transport itself shuts down. Consumers select on both
// rather than relying on Messages being closed, which would otherwise race
// against in-flight deliveries from other goroutines.
type Inbox struct {
	Messages <-chan message.Message
	Done     <-chan struct{}
}

// Transport is the uniform interface a Space drives. Both the local and
// AMQP implementations give identical externally observable behavior:
// ordering from a single sender to a single recipient, broadcast
// visibility modulo receive_own_broadcasts, and delivery of a
// point-to-point send to exactly one inbox.
type Transport interface {
	// AddAgent binds a new inbox under id. Fails with a duplicate-id error
	// if id is already bound, or if id is the reserved broadcast id "*".
	AddAgent(id string, receiveOwnBroadcasts bool) (*Inbox, error)

	// RemoveAgent unbinds id, closing its Done channel. Removing an
	// unknown id is a no-op.
	RemoveAgent(id string) error

	// Publish delivers a stamped message per addressing rules: broadcast
	// ("*") fans out to every bound agent except the sender (unless that
	// agent opted into receive_own_broadcasts); point-to-point delivers to
	// exactly one inbox, or is silently dropped if the destination id is
	// not currently bound.
	Publish(msg message.Message) error

	// Close performs orderly shutdown, unblocking any pending deliveries
	// and closing every agent's Done channel.
	Close() error
}
