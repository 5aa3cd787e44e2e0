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

package tool

import (
	"fmt"

	"github.com/teradata-labs/loomcore/internal/csync"
)

// Registry maps tool names to their implementations. It is safe for
// concurrent use: an agent's toolset is built once and read by many
// concurrent dispatch calls.
type Registry struct {
	tools *csync.Map[string, Tool]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: csync.NewMap[string, Tool]()}
}

// Register adds t under its own Spec().Name, replacing any prior
// registration of the same name.
func (r *Registry) Register(t Tool) {
	r.tools.Set(t.Spec().Name, t)
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	return r.tools.Get(name)
}

// MustLookup is Lookup but panics on a missing tool; useful for wiring
// code that has already validated the agent's toolset against the
// registry.
func (r *Registry) MustLookup(name string) Tool {
	t, ok := r.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("tool: no tool registered under name %q", name))
	}
	return t
}

// Names returns every registered tool name, order unspecified.
func (r *Registry) Names() []string {
	var names []string
	r.tools.Range(func(name string, _ Tool) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Subset builds a new Registry containing only the named tools,
// matching the way an Agent's toolset is an immutable, permitted
// subset of the full registry.
func (r *Registry) Subset(names []string) *Registry {
	sub := NewRegistry()
	for _, n := range names {
		if t, ok := r.Lookup(n); ok {
			sub.Register(t)
		}
	}
	return sub
}
