package generate

import (
	"context"
	"fmt"
	"time"
)

// Request is a single text-generation call.
type Request struct {
	Prompt string
	Model  string
	// Timeout bounds the backend call. Zero uses the plugin's configured default.
	Timeout time.Duration
}

// Result is the typed envelope every generator returns. Backends with looser
// response shapes are parsed once at the plugin boundary.
type Result struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Generator sends a prompt to a text-generation backend. Implementations do
// not retry; retry policy belongs to the job orchestrator.
type Generator interface {
	Generate(ctx context.Context, req Request) (Result, error)
	Name() string
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
