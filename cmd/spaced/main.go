// Command spaced boots a space runtime from a YAML configuration file and
// seeds it with two demo agents (a calculator and a broadcast-listening
// echo agent), then blocks until an operator shuts it down.
//
// Configuration source priority:
// 1. Command line argument: the named config file is loaded directly.
// 2. Default file: config/space.yaml, if present.
// 3. Hardcoded defaults: an in-process local space with no persisted config.
//
// Called by: operating system process execution
// Calls: internal/config, public/space, public/agent
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quorumhq/space/internal/config"
	"github.com/quorumhq/space/internal/registry"
	"github.com/quorumhq/space/public/agent"
	"github.com/quorumhq/space/public/space"
)

func main() {
	cfg, source := loadConfig()
	log.Printf("spaced: starting using %s", source)
	if cfg.Debug {
		log.Printf("spaced: debug enabled for space %q", cfg.Space)
	}

	sp, err := space.NewEmbedded(*cfg)
	if err != nil {
		log.Fatalf("spaced: failed to start space: %v", err)
	}

	if err := seedDemoAgents(sp); err != nil {
		log.Fatalf("spaced: failed to seed demo agents: %v", err)
	}
	log.Printf("spaced: space %q running (transport=%s)", cfg.Space, cfg.Transport.Kind)

	waitForShutdown()

	log.Printf("spaced: shutting down...")
	if err := sp.Close(); err != nil {
		log.Printf("spaced: error during shutdown: %v", err)
	}
	log.Printf("spaced: stopped")
}

// loadConfig follows the documented priority hierarchy, falling back to a
// hardcoded local-transport default if nothing else is available.
func loadConfig() (*config.Config, string) {
	if len(os.Args) >= 2 {
		configFile := os.Args[1]
		cfg, err := config.Load(configFile)
		if err != nil {
			log.Fatalf("spaced: failed to load config from %s: %v", configFile, err)
		}
		return cfg, fmt.Sprintf("config file: %s", configFile)
	}

	if _, err := os.Stat("config/space.yaml"); err == nil {
		cfg, err := config.Load("config/space.yaml")
		if err != nil {
			log.Printf("spaced: config/space.yaml exists but failed to load: %v", err)
			log.Printf("spaced: using hardcoded defaults instead")
			return defaultConfig(), "hardcoded defaults (config/space.yaml failed to parse)"
		}
		return cfg, "config/space.yaml (default)"
	}

	log.Printf("spaced: no config file specified and config/space.yaml not found")
	return defaultConfig(), "hardcoded defaults"
}

func defaultConfig() *config.Config {
	return &config.Config{
		Space: "spaced-default",
		Debug: true,
		Transport: config.TransportConfig{
			Kind: "local",
		},
	}
}

// seedDemoAgents registers the spec's literal calculator and broadcast-say
// scenarios: a Calc agent exposing add, and a Listener agent that logs
// the content of a broadcast say.
func seedDemoAgents(sp *space.Space) error {
	calc, err := agent.New("Calc")
	if err != nil {
		return err
	}
	if err := calc.RegisterAction(registry.Descriptor{
		Name:        "add",
		Description: "Adds two integers.",
		Args: map[string]registry.ArgSpec{
			"a": {Type: "int", Description: "first addend"},
			"b": {Type: "int", Description: "second addend"},
		},
		Returns: registry.ReturnSpec{Type: "int", Description: "a + b"},
		Access:  registry.Permitted,
		Handler: func(args map[string]any) (any, error) {
			a, _ := args["a"].(int)
			b, _ := args["b"].(int)
			return a + b, nil
		},
	}); err != nil {
		return err
	}
	if err := sp.Add(calc); err != nil {
		return err
	}

	listener, err := agent.New("Listener")
	if err != nil {
		return err
	}
	if err := listener.RegisterAction(registry.Descriptor{
		Name:        "say",
		Description: "Logs a broadcast message's content.",
		Args: map[string]registry.ArgSpec{
			"content": {Type: "string", Description: "message content"},
		},
		Access: registry.Permitted,
		Handler: func(args map[string]any) (any, error) {
			content, _ := args["content"].(string)
			listener.LogInfo("heard: %s", content)
			return nil, nil
		},
	}); err != nil {
		return err
	}
	return sp.Add(listener)
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("spaced: received signal %s", sig)
	// brief grace period so in-flight handlers can finish before Close
	// stops every agent.
	time.Sleep(50 * time.Millisecond)
}
