// Copyright 2026 The Loomcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the runtime's tunables from a YAML document,
// expanding ${VAR}-style environment references before parsing, the
// way the teacher's project loader does for its own project.yaml.
package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// LLMConfig holds per-provider request timing.
type LLMConfig struct {
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// RetryConfig controls the backoff helper shared by every provider
// adapter.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// PermissionConfig holds the defaults the permission checker falls
// back to when a tool doesn't declare its own risk level.
type PermissionConfig struct {
	DefaultRisk string `yaml:"default_risk"`
}

// Config is every tunable the core recognises (spec §6.3). Load it via
// Load, or construct directly and call ApplyDefaults.
type Config struct {
	WorkerThreads      int              `yaml:"worker_threads"`
	GlobalConcurrency  int              `yaml:"global_concurrency"`
	MaxSteps           int              `yaml:"max_steps"`
	TaskTimeout        time.Duration    `yaml:"task_timeout"`
	EventBusCapacity   int              `yaml:"event_bus_capacity"`
	MailboxCapacity    int              `yaml:"mailbox_capacity"`
	ToolTimeoutDefault time.Duration    `yaml:"tool_timeout_default"`
	LLM                LLMConfig        `yaml:"llm"`
	Retry              RetryConfig      `yaml:"retry"`
	Permission         PermissionConfig `yaml:"permission"`
}

// ApplyDefaults fills every zero-valued field with its documented
// default. Call this once after unmarshaling so defaults live in one
// place instead of being scattered across call sites.
func (c *Config) ApplyDefaults() {
	if c.WorkerThreads == 0 {
		c.WorkerThreads = runtime.NumCPU()
	}
	if c.GlobalConcurrency == 0 {
		c.GlobalConcurrency = 8
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = 50
	}
	if c.TaskTimeout == 0 {
		c.TaskTimeout = 30 * time.Minute
	}
	if c.EventBusCapacity == 0 {
		c.EventBusCapacity = 1024
	}
	if c.MailboxCapacity == 0 {
		c.MailboxCapacity = 32
	}
	if c.ToolTimeoutDefault == 0 {
		c.ToolTimeoutDefault = 120 * time.Second
	}
	if c.LLM.ConnectionTimeout == 0 {
		c.LLM.ConnectionTimeout = 30 * time.Second
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = 60 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseBackoff == 0 {
		c.Retry.BaseBackoff = time.Second
	}
	if c.Permission.DefaultRisk == "" {
		c.Permission.DefaultRisk = "medium"
	}
}

// Validate checks the cross-field invariants the options table implies.
func (c *Config) Validate() error {
	if c.LLM.RequestTimeout < c.LLM.ConnectionTimeout {
		return fmt.Errorf("config: llm.request_timeout (%s) must be >= llm.connection_timeout (%s)", c.LLM.RequestTimeout, c.LLM.ConnectionTimeout)
	}
	if c.GlobalConcurrency <= 0 {
		return fmt.Errorf("config: global_concurrency must be positive, got %d", c.GlobalConcurrency)
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("config: max_steps must be positive, got %d", c.MaxSteps)
	}
	return nil
}

// Default returns a Config with every default applied and no overrides.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// Load reads a YAML config document from path, expanding ${VAR}
// references against the current environment before parsing, applies
// defaults to any option the document omits, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse is Load without the filesystem read, exposed separately so
// callers (and tests) can feed it an in-memory document.
func Parse(raw []byte) (*Config, error) {
	expanded := os.Expand(string(raw), lookupEnv)

	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// lookupEnv backs os.Expand: an undefined ${VAR} expands to empty
// string rather than erroring, matching the teacher's project loader.
func lookupEnv(key string) string {
	return os.Getenv(key)
}
