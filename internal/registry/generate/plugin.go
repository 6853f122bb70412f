package generate

import (
	"context"
	"fmt"
)

// Options tunes a single generation call.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Generator is the external text-generation capability. The core only uses
// it for thread summaries; chat-completion orchestration stays with the host.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error)
}

// Loader creates a Generator from config.
type Loader func(ctx context.Context) (Generator, error)

// Plugin represents a generator plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a generator plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered generator plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named generator plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown generator %q; valid: %v", name, Names())
}
