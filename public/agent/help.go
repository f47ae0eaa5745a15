package agent

import "github.com/quorumhq/space/internal/registry"

// registerHelp installs the built-in help action (spec.md §4.6), including
// its own entry in the introspected registry. Called once from New, before
// any caller registration, so "help" can never be shadowed or fail to
// register due to ordering.
func (a *Agent) registerHelp() error {
	return a.registry.Register(registry.Descriptor{
		Name:        "help",
		Description: "Returns the agent's introspected action registry, or a single entry when action_name is given.",
		Args: map[string]registry.ArgSpec{
			"action_name": {Type: "string", Description: "optional: look up a single action by name"},
		},
		Returns: registry.ReturnSpec{
			Type:        "object",
			Description: "action name -> {description, args, returns, access_policy}, or one such entry",
		},
		Access: registry.Permitted,
		Handler: func(args map[string]any) (any, error) {
			if raw, ok := args["action_name"]; ok {
				if name, _ := raw.(string); name != "" {
					entry, found := a.registry.Entry(name)
					if !found {
						return map[string]any{}, nil
					}
					return entry, nil
				}
			}
			return a.registry.Entries(), nil
		},
	})
}
