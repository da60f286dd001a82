// Package config loads and validates runtime configuration from YAML with
// environment variable expansion. User values are merged over built-in
// defaults; a validation pass rejects inconsistent settings before anything
// starts.
package config

import (
	"fmt"
	"time"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	LLM     LLMConfig     `yaml:"llm"`
	Learner LearnerConfig `yaml:"learner"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Tools   ToolsConfig   `yaml:"tools"`
}

// AgentConfig tunes the execution engine.
type AgentConfig struct {
	MaxIterations                 int     `yaml:"max_iterations"`
	Mode                          string  `yaml:"mode"` // fast, deep, adapt
	KnowledgeRetrievalThreshold   float32 `yaml:"knowledge_retrieval_threshold"`
	AutomaticRetrievalTopK        int     `yaml:"automatic_retrieval_topk"`
	ModeSwitchCooldownIters       int     `yaml:"mode_switch_cooldown_iters"`
	SequentialDependencyHeuristic *bool   `yaml:"sequential_dependency_heuristic"`
}

// HeuristicEnabled reports whether the sequential dependency heuristic is on.
func (a AgentConfig) HeuristicEnabled() bool {
	return a.SequentialDependencyHeuristic == nil || *a.SequentialDependencyHeuristic
}

// LLMConfig selects and tunes the model provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai (or any compatible endpoint)
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// LearnerConfig tunes the background profile learner.
type LearnerConfig struct {
	Workers         int `yaml:"workers"`
	QueueSize       int `yaml:"queue_size"`
	CadenceMessages int `yaml:"profile_learning_cadence_messages"`
}

// ServerConfig tunes the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend      string `yaml:"backend"` // memory or postgres
	DatabaseURL  string `yaml:"database_url"`
	KnowledgeDir string `yaml:"knowledge_dir"` // persistent index location, empty means in-memory
}

// ToolsConfig tunes the built-in tools.
type ToolsConfig struct {
	ShellTimeout time.Duration `yaml:"shell_timeout"`
	FilesRoot    string        `yaml:"files_root"`
}

// Default returns the built-in configuration, complete enough to run the
// server with an in-memory store.
func Default() *Config {
	on := true
	return &Config{
		Agent: AgentConfig{
			MaxIterations:                 10,
			Mode:                          "fast",
			KnowledgeRetrievalThreshold:   0.75,
			AutomaticRetrievalTopK:        2,
			ModeSwitchCooldownIters:       2,
			SequentialDependencyHeuristic: &on,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
		},
		Learner: LearnerConfig{
			Workers:         2,
			QueueSize:       100,
			CadenceMessages: 5,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Tools: ToolsConfig{
			ShellTimeout: 30 * time.Second,
			FilesRoot:    ".",
		},
	}
}

// Validate checks the resolved configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be >= 1, got %d", c.Agent.MaxIterations)
	}
	switch c.Agent.Mode {
	case "fast", "deep", "adapt":
	default:
		return fmt.Errorf("agent.mode must be fast, deep, or adapt, got %q", c.Agent.Mode)
	}
	if c.Agent.KnowledgeRetrievalThreshold < 0 || c.Agent.KnowledgeRetrievalThreshold > 1 {
		return fmt.Errorf("agent.knowledge_retrieval_threshold must be in [0,1], got %v", c.Agent.KnowledgeRetrievalThreshold)
	}
	if c.Agent.AutomaticRetrievalTopK < 0 {
		return fmt.Errorf("agent.automatic_retrieval_topk must be >= 0, got %d", c.Agent.AutomaticRetrievalTopK)
	}
	if c.Agent.ModeSwitchCooldownIters < 0 {
		return fmt.Errorf("agent.mode_switch_cooldown_iters must be >= 0, got %d", c.Agent.ModeSwitchCooldownIters)
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", c.Store.Backend)
	}
	if c.Learner.Workers < 1 {
		return fmt.Errorf("learner.workers must be >= 1, got %d", c.Learner.Workers)
	}
	if c.Learner.QueueSize < 1 {
		return fmt.Errorf("learner.queue_size must be >= 1, got %d", c.Learner.QueueSize)
	}
	if c.Learner.CadenceMessages < 1 {
		return fmt.Errorf("learner.profile_learning_cadence_messages must be >= 1, got %d", c.Learner.CadenceMessages)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	return nil
}
