// Package space implements the embeddable space runtime: a container that
// binds a set of agent.Agent values to a shared transport.Transport and
// keeps a reserved system agent for whole-space introspection.
//
// Grounded on the teacher's public/orchestrator EmbeddedOrchestrator: a
// config-driven constructor, a mutex-guarded live-member map, and a single
// aggregate status/introspection surface over everything currently running.
//
// Key Features:
// - NewLocal/NewAMQP/NewEmbedded constructors selecting a Transport
// - Add/Remove bind and unbind agents, starting/stopping their worker loop
// - Reserved "space" system agent exposing a space-wide help aggregate
// - Close performs orderly shutdown of every agent and the transport
//
// Called by: cmd/spaced, embedding applications
// Calls: public/agent, internal/transport, internal/config, internal/registry
package space

import (
	"fmt"
	"sync"

	"github.com/quorumhq/space/internal/config"
	"github.com/quorumhq/space/internal/registry"
	"github.com/quorumhq/space/internal/transport"
	"github.com/quorumhq/space/public/agent"
)

// systemAgentID is the reserved id of the space-wide introspection agent.
// No caller-supplied agent may use this id.
const systemAgentID = "space"

// Space binds agents to a transport and tracks which are currently live.
type Space struct {
	mu        sync.RWMutex
	transport transport.Transport
	agents    map[string]*agent.Agent
}

// NewLocal returns a Space backed by the in-process transport.
func NewLocal() (*Space, error) {
	return newSpace(transport.NewLocal())
}

// NewAMQP returns a Space backed by the AMQP transport, dialing cfg.
func NewAMQP(cfg transport.AMQPConfig) (*Space, error) {
	tr, err := transport.NewAMQP(cfg)
	if err != nil {
		return nil, fmt.Errorf("space: %w", err)
	}
	return newSpace(tr)
}

// NewEmbedded constructs a Space from a loaded config.Config, selecting the
// transport by cfg.Transport.Kind ("local", the default, or "amqp").
func NewEmbedded(cfg config.Config) (*Space, error) {
	switch cfg.Transport.Kind {
	case "amqp":
		return NewAMQP(transport.AMQPConfig{
			Host:     cfg.Transport.AMQP.Host,
			Port:     cfg.Transport.AMQP.Port,
			Username: cfg.Transport.AMQP.Username,
			Password: cfg.Transport.AMQP.Password,
			VHost:    cfg.Transport.AMQP.VHost,
			Exchange: cfg.Transport.AMQP.Exchange,
		})
	case "", "local":
		return NewLocal()
	default:
		return nil, fmt.Errorf("space: unknown transport kind %q", cfg.Transport.Kind)
	}
}

func newSpace(tr transport.Transport) (*Space, error) {
	s := &Space{
		transport: tr,
		agents:    make(map[string]*agent.Agent),
	}

	sys, err := agent.New(systemAgentID)
	if err != nil {
		return nil, fmt.Errorf("space: %w", err)
	}
	if err := sys.RegisterAction(registry.Descriptor{
		Name:        "space_help",
		Description: "Returns every live agent's id and introspected action registry.",
		Returns: registry.ReturnSpec{
			Type:        "object",
			Description: "agent id -> (action name -> entry)",
		},
		Access: registry.Permitted,
		Handler: func(args map[string]any) (any, error) {
			return s.Help(), nil
		},
	}); err != nil {
		return nil, fmt.Errorf("space: %w", err)
	}

	if err := s.Add(sys); err != nil {
		return nil, fmt.Errorf("space: %w", err)
	}
	return s, nil
}

// Add binds a to the space's transport and starts it. Fails if a's id is
// already bound.
func (s *Space) Add(a *agent.Agent) error {
	s.mu.Lock()
	if _, exists := s.agents[a.ID()]; exists {
		s.mu.Unlock()
		return fmt.Errorf("space: agent %q already added", a.ID())
	}
	s.mu.Unlock()

	inbox, err := s.transport.AddAgent(a.ID(), a.ReceiveOwnBroadcasts())
	if err != nil {
		return fmt.Errorf("space: %w", err)
	}
	if err := a.Start(s.transport, inbox); err != nil {
		_ = s.transport.RemoveAgent(a.ID())
		return fmt.Errorf("space: %w", err)
	}

	s.mu.Lock()
	s.agents[a.ID()] = a
	s.mu.Unlock()
	return nil
}

// Remove stops and unbinds the agent with id. A no-op if id isn't live.
func (s *Space) Remove(id string) error {
	s.mu.Lock()
	a, ok := s.agents[id]
	if ok {
		delete(s.agents, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return a.Stop()
}

// Agent returns the live agent bound under id, if any.
func (s *Space) Agent(id string) (*agent.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	return a, ok
}

// Help returns every live agent's id mapped to its introspected action
// registry, the data behind the reserved system agent's space_help action.
func (s *Space) Help() map[string]map[string]registry.Entry {
	s.mu.RLock()
	ids := make([]*agent.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		ids = append(ids, a)
	}
	s.mu.RUnlock()

	out := make(map[string]map[string]registry.Entry, len(ids))
	for _, a := range ids {
		out[a.ID()] = a.Actions()
	}
	return out
}

// Close stops every bound agent and then closes the underlying transport.
func (s *Space) Close() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Remove(id)
	}
	return s.transport.Close()
}
