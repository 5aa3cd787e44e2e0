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

// Package agent implements the step loop that drives one conversation
// turn through an LLM client and a tool dispatcher to completion: a
// tagged Kind replaces a class hierarchy for role-specific behavior,
// and the loop itself is identical across every Kind.
package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/loomcore/internal/cancel"
	"github.com/teradata-labs/loomcore/internal/config"
	"github.com/teradata-labs/loomcore/internal/errs"
	"github.com/teradata-labs/loomcore/internal/eventbus"
	"github.com/teradata-labs/loomcore/internal/llm"
	"github.com/teradata-labs/loomcore/internal/message"
	"github.com/teradata-labs/loomcore/internal/session"
	"github.com/teradata-labs/loomcore/internal/tool"
	"github.com/teradata-labs/loomcore/internal/trajectory"
)

// Kind tags an agent's role. The step loop is identical across every
// Kind; only the system prompt and the permitted toolset vary, which
// is what a tagged variant buys over a class per role.
type Kind string

const (
	KindGeneral Kind = "general"
	KindExplore Kind = "explore"
	KindPlan    Kind = "plan"
	KindTask    Kind = "task"
	KindGuide   Kind = "guide"
	KindCustom  Kind = "custom"
)

// State is one stage of the step loop:
//
//	Initializing -> Ready -> Thinking(step n) ->
//	  { Completed | ExecutingTools -> Thinking(n+1) } ->
//	  { Completed | Cancelled | Error }
type State int

const (
	StateInitializing State = iota
	StateReady
	StateThinking
	StateExecutingTools
	StateCompleted
	StateCancelled
	StateError
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateThinking:
		return "thinking"
	case StateExecutingTools:
		return "executing_tools"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Params is an agent's construction-time configuration. Once created,
// Kind, SystemPrompt, and Model never change for the life of the agent.
type Params struct {
	ID           string
	Kind         Kind
	SystemPrompt string
	Model        string
	MaxTokens    int
	Temperature  float64

	// ToolNames lists the registry tools declared to the LLM on every
	// request; names the registry does not hold are skipped. The
	// dispatcher itself does not restrict calls to this list.
	ToolNames []string
}

// Agent drives one session's conversation through repeated LLM/tool
// rounds. An Agent implements session.AgentHandle, so a Session
// supervises it without importing this package.
type Agent struct {
	id     string
	kind   Kind
	system string
	model  string

	maxTokens   int
	temperature float64

	sess       *session.Session
	client     llm.Client
	dispatcher *tool.Dispatcher
	registry   *tool.Registry
	toolNames  []string
	bus        *eventbus.Bus
	cfg        *config.Config
	logger     *zap.Logger
	traj       *trajectory.Writer

	token *cancel.Token
	done  chan struct{}

	mu       sync.Mutex
	state    State
	step     int
	err      error
	paused   bool
	resumeCh chan struct{}
}

// New constructs an Agent under sess, deriving its cancellation token
// from the session's own token. The caller must still call
// sess.RegisterAgent(a) and then start it with sess.Spawn; calling a.Run
// directly runs it without the session's supervision.
func New(sess *session.Session, client llm.Client, dispatcher *tool.Dispatcher, registry *tool.Registry, bus *eventbus.Bus, cfg *config.Config, logger *zap.Logger, traj *trajectory.Writer, p Params) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		id:          p.ID,
		kind:        p.Kind,
		system:      p.SystemPrompt,
		model:       p.Model,
		maxTokens:   p.MaxTokens,
		temperature: p.Temperature,
		sess:        sess,
		client:      client,
		dispatcher:  dispatcher,
		registry:    registry,
		toolNames:   p.ToolNames,
		bus:         bus,
		cfg:         cfg,
		logger:      logger,
		traj:        traj,
		token:       sess.Token().Child(),
		done:        make(chan struct{}),
		state:       StateInitializing,
		resumeCh:    closedChan(),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// ID implements session.AgentHandle.
func (a *Agent) ID() string { return a.id }

// Token implements session.AgentHandle.
func (a *Agent) Token() *cancel.Token { return a.token }

// Done implements session.AgentHandle.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Err implements session.AgentHandle: the terminal error, if the agent
// ended in StateError or StateCancelled; nil otherwise (including while
// still running).
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// State reports the agent's current step-loop state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Step reports the agent's current step counter (1-indexed once
// Thinking has run at least once).
func (a *Agent) Step() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.step
}

// SetPaused implements session.AgentHandle. Setting true blocks the
// loop at its next step boundary; setting false releases it. It never
// interrupts an in-flight LLM call or tool batch.
func (a *Agent) SetPaused(p bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p == a.paused {
		return
	}
	a.paused = p
	if p {
		a.resumeCh = make(chan struct{})
	} else {
		close(a.resumeCh)
	}
}

func (a *Agent) waitIfPaused(ctx context.Context) error {
	for {
		a.mu.Lock()
		if !a.paused {
			a.mu.Unlock()
			return nil
		}
		ch := a.resumeCh
		a.mu.Unlock()

		select {
		case <-ch:
		case <-a.token.Cancelled():
			return errs.Cancelled(a.token.Err())
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.bus.Publish(eventbus.AgentStateChanged(a.sess.ID(), a.id, s.String()))
}

// Run runs the agent's task on prompt and blocks until it completes, is
// cancelled, or hits a step/time bound. Run closes Done() exactly once,
// on any exit path. Run does not publish AgentCompleted or remove this
// agent from its session's registry: a caller normally reaches Run only
// through session.Session.Spawn, which owns both as the single
// supervision boundary (including recovering a panic escaping Run).
// Callers invoking Run directly (e.g. in tests) get neither.
func (a *Agent) Run(ctx context.Context, prompt string) (*message.Message, error) {
	defer close(a.done)

	a.setState(StateInitializing)
	a.logTrajectory(trajectory.TaskStartEntry(a.id, prompt, a.id, string(a.kind)))

	userMsg := message.New(a.sess.ID(), message.RoleUser)
	userMsg.AddBlock(message.Text{Text: prompt})
	userMsg.Finalize(message.StopEndTurn)
	a.sess.AppendHistory(userMsg)

	taskCtx := ctx
	var cancelTimeout context.CancelFunc
	if a.cfg != nil && a.cfg.TaskTimeout > 0 {
		taskCtx, cancelTimeout = context.WithTimeout(ctx, a.cfg.TaskTimeout)
		defer cancelTimeout()
	}
	deadline, hasDeadline := taskCtx.Deadline()

	a.setState(StateReady)
	final, err := a.loop(taskCtx, deadline, hasDeadline)

	if err != nil {
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		classified := errs.Classify(err)
		if classified.Kind == errs.KindCancelled {
			a.setState(StateCancelled)
		} else {
			a.setState(StateError)
		}
		a.logTrajectory(trajectory.ErrorEntryFor(a.id, string(classified.Kind), classified.Error()))
		return nil, err
	}

	a.setState(StateCompleted)
	a.logTrajectory(trajectory.TaskCompleteEntry(a.id, a.Step(), "ok"))
	return final, nil
}

func (a *Agent) loop(ctx context.Context, deadline time.Time, hasDeadline bool) (*message.Message, error) {
	maxSteps := 50
	if a.cfg != nil && a.cfg.MaxSteps > 0 {
		maxSteps = a.cfg.MaxSteps
	}

	for {
		if err := a.waitIfPaused(ctx); err != nil {
			return nil, err
		}
		if a.token.IsCancelled() {
			return nil, errs.Cancelled(a.token.Err())
		}
		if hasDeadline && time.Now().After(deadline) {
			var limit time.Duration
			if a.cfg != nil {
				limit = a.cfg.TaskTimeout
			}
			return nil, errs.TaskTimeout(limit)
		}

		a.mu.Lock()
		a.step++
		step := a.step
		a.mu.Unlock()
		if step > maxSteps {
			return nil, errs.MaxStepsExceeded(step, maxSteps)
		}

		a.setState(StateThinking)
		resp, err := a.think(ctx, step)
		if err != nil {
			return nil, err
		}
		a.sess.AppendHistory(resp)

		switch resp.StopReason {
		case message.StopEndTurn, message.StopStopSequence:
			return resp, nil
		case message.StopMaxTokens:
			return resp, nil
		case message.StopToolUse:
			a.setState(StateExecutingTools)
			if err := a.executeTools(ctx, resp); err != nil {
				return nil, err
			}
			// loop continues into the next Thinking step
		default:
			return resp, nil
		}
	}
}

func (a *Agent) think(ctx context.Context, step int) (*message.Message, error) {
	history := a.sess.History()
	req := llm.Request{
		SessionID:   a.sess.ID(),
		AgentID:     a.id,
		System:      a.system,
		Messages:    history,
		Tools:       a.toolDeclarations(),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}

	a.logTrajectory(trajectory.LLMRequestEntry(a.id, step, a.model, len(history)))

	var retry config.RetryConfig
	if a.cfg != nil {
		retry = a.cfg.Retry
	}

	var (
		resp *message.Message
		err  error
	)
	if a.client.Capabilities().Streaming {
		resp, err = a.client.ChatStream(ctx, req, a.bus)
	} else {
		resp, err = llm.ChatWithRetry(ctx, a.client, req, retry, a.logger)
	}
	if err != nil {
		return nil, err
	}

	a.logTrajectory(trajectory.LLMResponseEntry(a.id, step, string(resp.StopReason), resp.Usage.InputTokens, resp.Usage.OutputTokens))
	a.sess.ApplyUpdate(session.Info{
		CompletionTokens: resp.Usage.OutputTokens,
		PromptTokens:     resp.Usage.InputTokens,
		Model:            a.model,
	})
	return resp, nil
}

func (a *Agent) executeTools(ctx context.Context, assistantMsg *message.Message) error {
	uses := assistantMsg.ToolUses()
	if len(uses) == 0 {
		return nil
	}

	reqs := make([]tool.Request, len(uses))
	for i, u := range uses {
		reqs[i] = tool.Request{ID: u.CallID, Name: u.Name, Input: u.Input}
	}

	start := time.Now()
	calls, err := a.dispatcher.Dispatch(ctx, a.sess.ID(), a.id, reqs, a.token)
	if err != nil {
		return err
	}

	for _, call := range calls {
		result, callErr := call.Result()
		content, isError := result.Flatten()
		if callErr != nil {
			isError = true
			content = callErr.Error()
		}
		a.logTrajectory(trajectory.ToolExecutionEntry(a.id, call.ID, call.Name, call.State().String(), time.Since(start)))
		a.sess.AppendHistory(message.ToolResultMessage(a.sess.ID(), call.ID, content, isError))
	}
	return nil
}

func (a *Agent) toolDeclarations() []llm.ToolDeclaration {
	decls := make([]llm.ToolDeclaration, 0, len(a.toolNames))
	for _, name := range a.toolNames {
		t, ok := a.registry.Lookup(name)
		if !ok {
			continue
		}
		spec := t.Spec()
		decls = append(decls, llm.ToolDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.RawSchema,
		})
	}
	return decls
}

func (a *Agent) logTrajectory(e trajectory.Entry) {
	if a.traj == nil {
		return
	}
	_ = a.traj.Append(e)
}

var _ session.AgentHandle = (*Agent)(nil)
