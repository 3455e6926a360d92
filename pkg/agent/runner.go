package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/voicedesk/internal/observability"
	"github.com/harun/voicedesk/internal/tracing"
	"github.com/harun/voicedesk/pkg/commandqueue"
	"github.com/harun/voicedesk/pkg/session"
	"github.com/harun/voicedesk/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxToolTurns        = 10
	defaultHistoryLimit = 40
	contextTokenBudget  = 16000
	recentKeep          = 20
	cooldownStep        = time.Minute
)

// Runner orchestrates AI agent execution
type Runner struct {
	sessions        *session.SessionManager
	queue           *commandqueue.CommandQueue
	logger          zerolog.Logger
	providerFactory ProviderCreator
	sleep           func(ctx context.Context, d time.Duration) error

	authProfiles []AuthProfile
	authMu       sync.RWMutex

	providers   map[string]LLMProvider
	providersMu sync.Mutex

	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// Options holds runner dependencies
type Options struct {
	Sessions        *session.SessionManager
	Queue           *commandqueue.CommandQueue
	Logger          zerolog.Logger
	AuthProfiles    []AuthProfile
	ProviderFactory ProviderCreator
}

// NewRunner creates a new agent runner
func NewRunner(opts Options) (*Runner, error) {
	observability.EnsureRegistered()

	if opts.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}
	if len(opts.AuthProfiles) == 0 {
		return nil, fmt.Errorf("at least one auth profile is required")
	}

	factory := opts.ProviderFactory
	if factory == nil {
		factory = &ProviderFactory{}
	}

	profiles := make([]AuthProfile, len(opts.AuthProfiles))
	copy(profiles, opts.AuthProfiles)

	return &Runner{
		sessions:        opts.Sessions,
		queue:           opts.Queue,
		logger:          opts.Logger,
		providerFactory: factory,
		sleep:           sleepContext,
		authProfiles:    profiles,
		providers:       make(map[string]LLMProvider),
		activeRuns:      make(map[string]context.CancelFunc),
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Profiles returns a snapshot of the auth profiles with their cooldown state.
func (r *Runner) Profiles() []AuthProfile {
	r.authMu.RLock()
	defer r.authMu.RUnlock()
	out := make([]AuthProfile, len(r.authProfiles))
	copy(out, r.authProfiles)
	return out
}

// Run executes one user turn on the session lane.
func (r *Runner) Run(ctx context.Context, params RunParams) (Result, error) {
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithSessionKey(ctx, params.SessionKey)
	ctx, span := tracing.StartSpan(ctx, "voicedesk.agent", "agent.run",
		attribute.String("session_key", params.SessionKey),
		attribute.String("persona", params.Persona),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	if err := validateConfig(params.Config); err != nil {
		tracing.FailSpan(span, err)
		return Result{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := session.ValidateSessionKey(params.SessionKey); err != nil {
		tracing.FailSpan(span, err)
		return Result{}, err
	}

	value, err := r.queue.Enqueue(ctx, commandqueue.SessionLane(params.SessionKey), func(taskCtx context.Context) (interface{}, error) {
		return r.executeAgent(taskCtx, params)
	}, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Agent run failed")
		tracing.FailSpan(span, err)
		return Result{}, err
	}

	result := value.(Result)
	if result.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.input_tokens", result.Usage.InputTokens),
			attribute.Int("llm.output_tokens", result.Usage.OutputTokens),
		)
	}
	return result, nil
}

// RecordExchange appends a turn produced without the model, so later runs
// see it as history.
func (r *Runner) RecordExchange(ctx context.Context, sessionKey, user, assistant string, metadata map[string]interface{}) error {
	_, err := r.queue.Enqueue(ctx, commandqueue.SessionLane(sessionKey), func(taskCtx context.Context) (interface{}, error) {
		if user != "" {
			if err := r.sessions.Append(taskCtx, sessionKey, session.Message{Role: "user", Content: user}); err != nil {
				return nil, err
			}
		}
		if assistant != "" {
			if err := r.sessions.Append(taskCtx, sessionKey, session.Message{
				Role:     "assistant",
				Content:  assistant,
				Metadata: metadata,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to record exchange: %w", err)
	}
	return nil
}

// Abort cancels a running agent execution
func (r *Runner) Abort(sessionKey string) {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[sessionKey]
	if !exists {
		return
	}
	r.logger.Info().Str("session_key", sessionKey).Msg("Aborting agent execution")
	cancel()
	delete(r.activeRuns, sessionKey)
}

// IsRunning checks if an agent is currently running for a session
func (r *Runner) IsRunning(sessionKey string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[sessionKey]
	return exists
}

func (r *Runner) executeAgent(ctx context.Context, params RunParams) (Result, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.runsMu.Lock()
	r.activeRuns[params.SessionKey] = cancel
	r.runsMu.Unlock()
	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, params.SessionKey)
		r.runsMu.Unlock()
	}()

	limit := params.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	history, err := r.sessions.Messages(execCtx, params.SessionKey, limit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load session history")
		return Result{}, fmt.Errorf("failed to load session history: %w", err)
	}

	messages := r.buildMessages(history, params.Prompt)

	if err := r.sessions.Append(execCtx, params.SessionKey, session.Message{
		Role:    "user",
		Content: params.Prompt,
	}); err != nil {
		return Result{}, fmt.Errorf("failed to save user message: %w", err)
	}

	result, err := r.executeWithFailover(execCtx, messages, params)
	if err != nil {
		return Result{}, err
	}
	if result.Aborted {
		result.SessionKey = params.SessionKey
		return result, nil
	}

	metadata := map[string]interface{}{
		"source":   "llm",
		"provider": result.Provider,
	}
	if result.Usage != nil {
		metadata["usage"] = result.Usage
	}
	if len(result.ToolCalls) > 0 {
		names := make([]string, len(result.ToolCalls))
		for i, tc := range result.ToolCalls {
			names[i] = tc.Name
		}
		metadata["tools"] = names
	}
	if err := r.sessions.Append(execCtx, params.SessionKey, session.Message{
		Role:     "assistant",
		Content:  result.Response,
		Metadata: metadata,
	}); err != nil {
		return Result{}, fmt.Errorf("failed to save assistant message: %w", err)
	}

	result.SessionKey = params.SessionKey
	return result, nil
}

func validateConfig(config Config) error {
	if config.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

func (r *Runner) buildMessages(history []session.Message, prompt string) []AgentMessage {
	messages := make([]AgentMessage, 0, len(history)+1)
	for _, msg := range history {
		if msg.Content == "" || (msg.Role != "user" && msg.Role != "assistant") {
			continue
		}
		messages = append(messages, AgentMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, AgentMessage{Role: "user", Content: prompt})
	return r.compactIfNeeded(messages)
}

// compactIfNeeded keeps the most recent turns once history outgrows the budget.
func (r *Runner) compactIfNeeded(messages []AgentMessage) []AgentMessage {
	if EstimateTokens(messages) <= contextTokenBudget || len(messages) <= recentKeep {
		return messages
	}

	older := len(messages) - recentKeep
	r.logger.Info().
		Int("dropped", older).
		Msg("Compacting context")

	compacted := []AgentMessage{{
		Role:    "user",
		Content: fmt.Sprintf("[Earlier in this call: %d messages exchanged]", older),
	}}
	return append(compacted, messages[older:]...)
}

func buildTools(tools *toolexecutor.ToolExecutor, policy *toolexecutor.ToolPolicy) []ToolSpec {
	if tools == nil {
		return nil
	}
	defs := tools.Definitions()
	specs := make([]ToolSpec, 0, len(defs))
	for _, def := range defs {
		if !policy.IsToolAllowed(def.Name) {
			continue
		}
		specs = append(specs, ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema(),
		})
	}
	return specs
}

func (r *Runner) executeWithFailover(ctx context.Context, messages []AgentMessage, params RunParams) (Result, error) {
	profiles := r.Profiles()
	sortProfilesByPriority(profiles)
	logger := tracing.LoggerFromContext(ctx, r.logger)
	tools := buildTools(params.Tools, params.ToolPolicy)

	var lastErr error
	for _, profile := range profiles {
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.Provider, true)
			logger.Debug().Str("profile_id", profile.ID).Msg("Skipping profile in cooldown")
			continue
		}

		started := time.Now()
		provider, err := r.provider(ctx, profile)
		if err != nil {
			lastErr = err
			observability.RecordAgentRun(profile.Provider, time.Since(started), false)
			logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Failed to create provider")
			continue
		}

		result, err := r.executeWithProvider(ctx, provider, profile, messages, tools, params)
		if err == nil {
			r.updateProfileSuccess(profile.ID)
			observability.RecordAgentRun(profile.Provider, time.Since(started), true)
			result.Provider = profile.Provider
			return result, nil
		}

		lastErr = err
		observability.RecordAgentRun(profile.Provider, time.Since(started), false)
		logger.Warn().Str("profile_id", profile.ID).Err(err).Msg("Auth profile failed")

		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if !IsRetryableError(err) {
			return Result{}, err
		}
		r.updateProfileFailure(profile.ID)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("every profile is cooling down")
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return Result{}, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

func (r *Runner) provider(ctx context.Context, profile AuthProfile) (LLMProvider, error) {
	r.providersMu.Lock()
	defer r.providersMu.Unlock()
	if p, ok := r.providers[profile.ID]; ok {
		return p, nil
	}
	p, err := r.providerFactory.NewProvider(ctx, profile)
	if err != nil {
		return nil, err
	}
	r.providers[profile.ID] = p
	return p, nil
}

func (r *Runner) executeWithProvider(ctx context.Context, provider LLMProvider, profile AuthProfile, messages []AgentMessage, tools []ToolSpec, params RunParams) (Result, error) {
	model := modelFor(profile, params.Config.Model)
	ctx, span := tracing.StartSpan(ctx, "voicedesk.agent", "agent.provider",
		attribute.String("provider", provider.Provider()),
		attribute.String("model", model),
	)
	defer span.End()

	result, err := r.executeWithTools(ctx, provider, model, messages, tools, params)
	if err != nil {
		tracing.FailSpan(span, err)
	}
	return result, err
}

// executeWithTools handles the tool execution loop
func (r *Runner) executeWithTools(ctx context.Context, provider LLMProvider, model string, messages []AgentMessage, tools []ToolSpec, params RunParams) (Result, error) {
	current := make([]AgentMessage, len(messages))
	copy(current, messages)
	allToolCalls := []ToolCall{}
	var usage *TokenUsage

	for turn := 0; turn < maxToolTurns; turn++ {
		if ctx.Err() != nil {
			return Result{Aborted: true, Usage: usage}, nil
		}

		request := LLMRequest{
			Model:        model,
			Messages:     current,
			Tools:        tools,
			Temperature:  params.Config.Temperature,
			MaxTokens:    params.Config.MaxTokens,
			SystemPrompt: params.SystemPrompt,
		}
		response, err := r.callLLMWithRetry(ctx, provider, request, params.Config.MaxRetries)
		if err != nil {
			return Result{}, err
		}
		usage = usage.add(response.Usage)
		if response.Usage != nil {
			params.Usage.AddLLM(response.Usage.InputTokens, response.Usage.OutputTokens)
		}

		if len(response.ToolCalls) == 0 {
			return Result{
				Response:  response.Content,
				ToolCalls: allToolCalls,
				Usage:     usage,
			}, nil
		}

		current = append(current, AgentMessage{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		for _, tr := range r.runTools(ctx, response.ToolCalls, params) {
			content := tr.Output
			if tr.Error != "" {
				content = mustJSON(map[string]interface{}{"error": tr.Error})
			}
			current = append(current, AgentMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: tr.ToolCallID,
				ToolName:   tr.Name,
			})
		}
		allToolCalls = append(allToolCalls, response.ToolCalls...)
	}

	return Result{}, fmt.Errorf("maximum tool execution turns exceeded")
}

func (r *Runner) runTools(ctx context.Context, calls []ToolCall, params RunParams) []ToolResult {
	results := make([]ToolResult, 0, len(calls))
	for _, call := range calls {
		if params.Tools == nil {
			results = append(results, ToolResult{ToolCallID: call.ID, Name: call.Name, Error: "no tools available"})
			continue
		}
		res := params.Tools.Execute(ctx, call.Name, call.Parameters, &toolexecutor.ExecutionContext{
			SessionKey: params.SessionKey,
			Persona:    params.Persona,
			Timeout:    params.ToolTimeout,
			ToolPolicy: params.ToolPolicy,
		})
		tr := ToolResult{ToolCallID: call.ID, Name: call.Name}
		if res.Success {
			tr.Output = mustJSON(res.Output)
		} else {
			tr.Error = res.Error
		}
		results = append(results, tr)
	}
	return results
}

func mustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// callLLMWithRetry calls the provider with exponential backoff: 1s, 2s, 4s.
func (r *Runner) callLLMWithRetry(ctx context.Context, provider LLMProvider, request LLMRequest, maxRetries int) (*LLMResponse, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		response, err := provider.Call(ctx, request)
		if err == nil {
			return response, nil
		}
		lastErr = err

		if !IsRetryableError(err) || attempt == maxRetries-1 {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		r.logger.Info().
			Str("provider", provider.Provider()).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	if !IsRetryableError(lastErr) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", maxRetries, lastErr)
}

func (r *Runner) updateProfileSuccess(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount = 0
			r.authProfiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(r.authProfiles[i].Provider, false)
			return
		}
	}
}

// updateProfileFailure puts a profile into a cooldown that grows by one
// minute per consecutive failure.
func (r *Runner) updateProfileFailure(profileID string) {
	r.authMu.Lock()
	defer r.authMu.Unlock()

	for i := range r.authProfiles {
		if r.authProfiles[i].ID == profileID {
			r.authProfiles[i].FailureCount++
			until := time.Now().Add(time.Duration(r.authProfiles[i].FailureCount) * cooldownStep).UnixMilli()
			r.authProfiles[i].CooldownUntil = &until
			observability.SetProviderCooldown(r.authProfiles[i].Provider, true)
			return
		}
	}
}

// sortProfilesByPriority sorts profiles by priority (lower = higher priority)
func sortProfilesByPriority(profiles []AuthProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}
