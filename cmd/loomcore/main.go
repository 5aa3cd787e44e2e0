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

// Command loomcore wires every core package into one runnable agent
// task: load configuration, pick an LLM provider from the environment,
// register a small builtin toolset, and run a single agent to
// completion on a prompt given on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/teradata-labs/loomcore/internal/agent"
	"github.com/teradata-labs/loomcore/internal/cancel"
	"github.com/teradata-labs/loomcore/internal/config"
	"github.com/teradata-labs/loomcore/internal/eventbus"
	"github.com/teradata-labs/loomcore/internal/llm"
	"github.com/teradata-labs/loomcore/internal/llm/anthropicprovider"
	"github.com/teradata-labs/loomcore/internal/llm/bedrockprovider"
	"github.com/teradata-labs/loomcore/internal/permission"
	"github.com/teradata-labs/loomcore/internal/session"
	"github.com/teradata-labs/loomcore/internal/tool"
	"github.com/teradata-labs/loomcore/internal/trajectory"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config document (defaults applied if omitted)")
	provider := flag.String("provider", "anthropic", "llm provider: anthropic or bedrock")
	trajectoryPath := flag.String("trajectory", "", "NDJSON trajectory output path (stdout if omitted)")
	autoApprove := flag.Bool("yes", false, "auto-approve every permission request, for unattended runs")
	flag.Parse()
	prompt := flag.Arg(0)
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: loomcore [flags] \"<prompt>\"")
		os.Exit(2)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal("loading config", zap.Error(err))
		}
	}

	trajOut := os.Stdout
	if *trajectoryPath != "" {
		f, err := os.Create(*trajectoryPath)
		if err != nil {
			logger.Fatal("opening trajectory file", zap.Error(err))
		}
		defer f.Close()
		trajOut = f
	}
	trajWriter := trajectory.NewWriter(trajOut)

	root := cancel.New()
	bus := eventbus.New(eventbus.WithCapacity(cfg.EventBusCapacity), eventbus.WithLogger(logger))

	client, err := buildProvider(context.Background(), *provider, cfg)
	if err != nil {
		logger.Fatal("building llm provider", zap.Error(err))
	}

	registry := tool.NewRegistry()
	registerBuiltinTools(registry)

	perms := permission.New(bus)
	if *autoApprove {
		perms.AutoApproveSession("cli-session")
	}
	dispatcher := tool.NewDispatcher(registry,
		tool.WithGlobalConcurrency(int64(cfg.GlobalConcurrency)),
		tool.WithDefaultTimeout(cfg.ToolTimeoutDefault),
		tool.WithEventBus(bus),
		tool.WithPermissionResolver(perms),
	)

	sess := session.New(root, bus, cfg, prompt)
	a := agent.New(sess, client, dispatcher, registry, bus, cfg, logger, trajWriter, agent.Params{
		ID:           "agent-main",
		Kind:         agent.KindGeneral,
		SystemPrompt: "You are a careful, concise coding assistant.",
		Model:        modelNameFor(*provider),
		MaxTokens:    4096,
		ToolNames:    registry.Names(),
	})
	sess.RegisterAgent(a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sess.Run(ctx)
	defer sess.End()

	sess.Spawn(ctx, a, prompt)
	<-a.Done()
	if err := a.Err(); err != nil {
		logger.Error("agent run failed", zap.Error(err))
		os.Exit(1)
	}

	history := sess.History()
	if len(history) > 0 {
		fmt.Println(history[len(history)-1].Text())
	}
}

func buildProvider(ctx context.Context, name string, cfg *config.Config) (llm.Client, error) {
	switch name {
	case "bedrock":
		return bedrockprovider.New(ctx, bedrockprovider.Config{
			Region:           os.Getenv("AWS_REGION"),
			ModelID:          bedrockprovider.DefaultModelID,
			MaxContextLength: 200000,
		})
	default:
		return anthropicprovider.New(anthropicprovider.Config{
			APIKey:            os.Getenv("ANTHROPIC_API_KEY"),
			Model:             anthropicprovider.DefaultModel,
			ConnectionTimeout: cfg.LLM.ConnectionTimeout,
			RequestTimeout:    cfg.LLM.RequestTimeout,
		}), nil
	}
}

func modelNameFor(provider string) string {
	if provider == "bedrock" {
		return bedrockprovider.DefaultModelID
	}
	return anthropicprovider.DefaultModel
}

func registerBuiltinTools(registry *tool.Registry) {
	registry.Register(echoTool{})
}
