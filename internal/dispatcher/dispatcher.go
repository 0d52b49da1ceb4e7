// Package dispatcher executes a plan: ready actions run concurrently on a
// bounded pool, dependents wait for their dependencies, and every outcome is
// persisted before it is announced on the run's stream.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/yuhaibao324/dipagt/internal/domain"
	apperrors "github.com/yuhaibao324/dipagt/internal/errors"
	"github.com/yuhaibao324/dipagt/internal/planner"
	"github.com/yuhaibao324/dipagt/internal/stream"
	"github.com/yuhaibao324/dipagt/internal/tools"
	"github.com/yuhaibao324/dipagt/policy"
)

// EmptyResultContent replaces an empty tool result in the persisted message.
const EmptyResultContent = "(Action produced no text content)"

// MessageWriter persists action messages.
type MessageWriter interface {
	CreateMessage(ctx context.Context, message *domain.Message) error
}

// Rememberer appends turns to conversation memory.
type Rememberer interface {
	Remember(ctx context.Context, chatID string, role domain.MessageRole, content string) error
}

// PolicyEvaluator decides whether an action may run.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input policy.Input) (policy.Decision, error)
}

// Config tunes the dispatcher.
type Config struct {
	MaxConcurrency int
	ToolTimeout    time.Duration
}

// Dispatcher runs plans.
type Dispatcher struct {
	messages MessageWriter
	memory   Rememberer
	policy   PolicyEvaluator
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a dispatcher. memory and policy may be nil.
func New(messages MessageWriter, memory Rememberer, policy PolicyEvaluator, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	return &Dispatcher{
		messages: messages,
		memory:   memory,
		policy:   policy,
		cfg:      cfg,
		logger:   logger.Named("dispatcher"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Target identifies the run and chat a plan executes for.
type Target struct {
	RunID  string
	ChatID string
}

// Outcome is what a finished execution leaves behind.
type Outcome struct {
	// Results holds one entry per action, in index order.
	Results []domain.ActionResult
	// LastAssistantMessage is the most recently persisted successful result.
	LastAssistantMessage *domain.Message
}

type completion struct {
	result domain.ActionResult
	seq    int64
	fatal  error
}

type execution struct {
	d       *Dispatcher
	target  Target
	plan    *planner.Plan
	emitter *stream.Emitter
	// emitCtx outlives run cancellation so closing events still reach the
	// subscriber.
	emitCtx context.Context
	runCtx  context.Context
	sem     *semaphore.Weighted
	seq     atomic.Int64
	done    chan completion
	logger  *zap.Logger
}

// Execute runs plan to completion and returns the per-action outcome. A
// non-nil error is fatal for the run: a storage failure or cancellation of
// ctx. Action failures are not errors; they are reported on the stream and
// in Outcome.Results.
func (d *Dispatcher) Execute(ctx context.Context, target Target, plan *planner.Plan, emitter *stream.Emitter) (*Outcome, error) {
	outcome := &Outcome{Results: make([]domain.ActionResult, plan.Len())}
	if plan.Empty() {
		return outcome, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	x := &execution{
		d:       d,
		target:  target,
		plan:    plan,
		emitter: emitter,
		emitCtx: context.WithoutCancel(ctx),
		runCtx:  runCtx,
		sem:     semaphore.NewWeighted(int64(d.cfg.MaxConcurrency)),
		done:    make(chan completion, plan.Len()),
		logger:  d.logger.With(zap.String("run_id", target.RunID), zap.String("chat_id", target.ChatID)),
	}

	n := plan.Len()
	dependents := plan.Dependents()
	remaining := make([]int, n)
	status := make([]domain.ActionStatus, n)
	for i, node := range plan.Nodes {
		remaining[i] = len(node.Action.DependsOn)
		status[i] = domain.ActionStatusPending
		outcome.Results[i] = domain.ActionResult{Index: i, Status: domain.ActionStatusPending}
	}

	// Ready indices are always started lowest first.
	var ready []int
	for i := 0; i < n; i++ {
		if remaining[i] == 0 {
			ready = append(ready, i)
			status[i] = domain.ActionStatusReady
		}
	}

	finished, running := 0, 0
	var lastSeq int64
	var fatal error

	finish := func(r domain.ActionResult) {
		outcome.Results[r.Index] = r
		status[r.Index] = r.Status
		finished++
	}

	// skip fails every not yet finished transitive dependent of i.
	var skip func(i int)
	skip = func(i int) {
		for _, dep := range dependents[i] {
			if status[dep].Terminal() {
				continue
			}
			err := apperrors.New(apperrors.CodeUpstreamDependencyFailed, "",
				apperrors.WithMetadata("upstream", strconv.Itoa(i)))
			x.emitError(dep, err)
			finish(domain.ActionResult{Index: dep, Status: domain.ActionStatusFailed, Err: err})
			skip(dep)
		}
	}

	for finished < n {
		if fatal == nil && runCtx.Err() != nil {
			fatal = runCtx.Err()
		}

		if fatal == nil {
			ready = x.launch(ready, outcome.Results, status, &running, func(r domain.ActionResult) {
				finish(r)
				skip(r.Index)
			})
		}

		if running == 0 {
			break
		}

		c := <-x.done
		running--
		x.sem.Release(1)
		if c.fatal != nil && fatal == nil {
			fatal = c.fatal
			cancel()
		}
		finish(c.result)
		if c.result.Succeeded() {
			if c.result.Message != nil && c.seq > lastSeq {
				lastSeq = c.seq
				outcome.LastAssistantMessage = c.result.Message
			}
			for _, dep := range dependents[c.result.Index] {
				remaining[dep]--
				if remaining[dep] == 0 && status[dep] == domain.ActionStatusPending {
					status[dep] = domain.ActionStatusReady
					ready = insertSorted(ready, dep)
				}
			}
		} else if fatal == nil && runCtx.Err() == nil {
			skip(c.result.Index)
		}
	}

	if fatal == nil && runCtx.Err() != nil {
		fatal = runCtx.Err()
	}
	if fatal != nil {
		if errors.Is(fatal, context.Canceled) || errors.Is(fatal, context.DeadlineExceeded) {
			fatal = apperrors.Wrap(apperrors.CodeCancelled, fatal, "")
		}
		x.logger.Warn("plan execution aborted", zap.Error(fatal), zap.Int("finished", finished), zap.Int("actions", n))
		return outcome, fatal
	}
	x.logger.Info("plan executed", zap.Int("actions", n))
	return outcome, nil
}

// launch starts as many ready actions as the pool admits, lowest index
// first, and returns the ones still waiting. Policy denials finish
// immediately through deny.
func (x *execution) launch(ready []int, results []domain.ActionResult, status []domain.ActionStatus, running *int, deny func(domain.ActionResult)) []int {
	var batch []int
	var calls []tools.Call
	rest := ready[:0:0]
	for k, i := range ready {
		node := x.plan.Nodes[i]
		call := tools.Call{
			AgentID: node.Action.AgentID,
			Params:  planner.Substitute(node.Action.Params, x.dependencyContent(i, results)),
			Config:  node.Config,
		}
		if err := x.checkPolicy(node, call.Params); err != nil {
			x.emitError(i, err)
			deny(domain.ActionResult{Index: i, Status: domain.ActionStatusFailed, Err: err})
			continue
		}
		if !x.sem.TryAcquire(1) {
			rest = append(rest, ready[k:]...)
			break
		}
		batch = append(batch, i)
		calls = append(calls, call)
	}

	// All starts of a batch are announced before any of its actions can
	// finish.
	for _, i := range batch {
		status[i] = domain.ActionStatusRunning
		node := x.plan.Nodes[i]
		x.emit(domain.StepActionStarted, domain.ActionStartedPayload{
			Index:      i,
			AgentName:  node.Action.AgentName,
			ActionType: node.Action.Tool,
		})
	}
	for k, i := range batch {
		*running++
		go x.run(i, calls[k])
	}
	return rest
}

func (x *execution) dependencyContent(i int, results []domain.ActionResult) map[int]string {
	deps := x.plan.Nodes[i].Action.DependsOn
	content := make(map[int]string, len(deps))
	for _, d := range deps {
		content[d] = results[d].Content
	}
	return content
}

func (x *execution) checkPolicy(node planner.Node, params map[string]interface{}) error {
	if x.d.policy == nil {
		return nil
	}
	decision, err := x.d.policy.Evaluate(x.runCtx, policy.Input{
		AgentID: node.Action.AgentID,
		Tool:    node.Action.Tool,
		Params:  params,
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodePolicyDenied, err, "policy evaluation failed")
	}
	if !decision.Allowed() {
		msg := "action blocked by policy"
		if decision.Reason != "" {
			msg += ": " + decision.Reason
		}
		return apperrors.New(apperrors.CodePolicyDenied, msg)
	}
	return nil
}

// run invokes one action and reports its completion.
func (x *execution) run(i int, call tools.Call) {
	node := x.plan.Nodes[i]
	started := x.d.now()
	logger := x.logger.With(zap.Int("index", i), zap.String("tool", node.Action.Tool), zap.String("agent_id", node.Action.AgentID))

	content, err := x.invoke(i, node, call)
	result := domain.ActionResult{Index: i, Started: true, Duration: x.d.now().Sub(started)}

	if err == nil && x.runCtx.Err() != nil {
		// Cancelled before the result could be persisted; drop it.
		err = x.runCtx.Err()
	}
	if err != nil {
		result.Status = domain.ActionStatusFailed
		result.Err = x.classify(node, err)
		logger.Warn("action failed", zap.Error(result.Err), zap.Duration("duration", result.Duration))
		if !apperrors.HasCode(result.Err, apperrors.CodeCancelled) {
			msg, perr := x.persist(node, apperrors.Describe(result.Err), domain.MessageTypeError, result.Err)
			if perr != nil {
				x.done <- completion{result: result, fatal: perr}
				return
			}
			result.Message = msg
		}
		x.emitError(i, result.Err)
		x.done <- completion{result: result}
		return
	}

	if content == "" {
		content = EmptyResultContent
	}
	result.Status = domain.ActionStatusSucceeded
	result.Content = content
	msg, perr := x.persist(node, content, domain.MessageTypeText, nil)
	if perr != nil {
		result.Status = domain.ActionStatusFailed
		result.Err = perr
		x.done <- completion{result: result, fatal: perr}
		return
	}
	result.Message = msg
	seq := x.seq.Add(1)

	if x.d.memory != nil {
		if err := x.d.memory.Remember(x.emitCtx, x.target.ChatID, domain.RoleAssistant, content); err != nil {
			logger.Warn("failed to remember action result", zap.Error(err))
		}
	}

	x.emit(domain.StepActionResult, domain.ActionResultPayload{
		Index:     i,
		AgentName: node.Action.AgentName,
		Result:    msg,
	})
	logger.Info("action succeeded", zap.Duration("duration", result.Duration), zap.Int("content_length", len(content)))
	x.done <- completion{result: result, seq: seq}
}

// invoke runs the tool under the per-tool timeout and forwards its chunks.
// The chunk channel is closed exactly once, after Invoke returns, and every
// chunk is emitted before invoke returns.
func (x *execution) invoke(i int, node planner.Node, call tools.Call) (string, error) {
	ctx := x.runCtx
	if x.d.cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.d.cfg.ToolTimeout)
		defer cancel()
	}

	chunks := make(chan string, 16)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		seq := 0
		for chunk := range chunks {
			x.emit(domain.StepMessageChunk, domain.MessageChunkPayload{Index: i, Seq: seq, Content: chunk})
			seq++
		}
	}()

	content, err := node.Tool.Invoke(ctx, call, chunks)
	close(chunks)
	<-forwarded

	if err != nil && ctx.Err() == context.DeadlineExceeded && x.runCtx.Err() == nil {
		return "", apperrors.Wrap(apperrors.CodeTimeout, err,
			fmt.Sprintf("tool %s timed out after %s", node.Action.Tool, x.d.cfg.ToolTimeout))
	}
	return content, err
}

func (x *execution) classify(node planner.Node, err error) error {
	if _, ok := apperrors.From(err); ok {
		return err
	}
	if x.runCtx.Err() != nil {
		return apperrors.Wrap(apperrors.CodeCancelled, err, "")
	}
	return apperrors.Wrap(apperrors.CodeToolFailure, err, "tool "+node.Action.Tool+" failed")
}

// persist stores an assistant message for an action that ran. It is not
// interrupted by run cancellation.
func (x *execution) persist(node planner.Node, content string, typ domain.MessageType, actionErr error) (*domain.Message, error) {
	metadata := map[string]interface{}{
		"tool":         node.Action.Tool,
		"explanation":  node.Action.Explanation,
		"action_index": node.Action.Index,
		"run_id":       x.target.RunID,
	}
	if actionErr != nil {
		metadata["error_code"] = string(apperrors.CodeOf(actionErr))
	}
	msg := &domain.Message{
		ID:        "msg_" + uuid.New().String(),
		ChatID:    x.target.ChatID,
		Role:      domain.RoleAssistant,
		Type:      typ,
		Content:   content,
		AgentID:   node.Action.AgentID,
		AgentName: node.Action.AgentName,
		Metadata:  metadata,
		CreatedAt: x.d.now(),
	}
	if node.Agent != nil {
		msg.AgentAvatar = node.Agent.Avatar
	}
	if err := x.d.messages.CreateMessage(x.emitCtx, msg); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "persist result of action "+strconv.Itoa(node.Action.Index))
	}
	return msg, nil
}

func (x *execution) emit(step domain.Step, payload interface{}) {
	if err := x.emitter.Progress(x.emitCtx, step, payload); err != nil {
		x.logger.Debug("dropped event", zap.String("step", string(step)), zap.Error(err))
	}
}

func (x *execution) emitError(i int, err error) {
	x.emit(domain.StepActionError, domain.ActionErrorPayload{
		Index:     i,
		AgentName: x.plan.Nodes[i].Action.AgentName,
		Error:     apperrors.Describe(err),
		Code:      string(apperrors.CodeOf(err)),
	})
}

func insertSorted(s []int, v int) []int {
	pos := len(s)
	for k, existing := range s {
		if v < existing {
			pos = k
			break
		}
	}
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}
