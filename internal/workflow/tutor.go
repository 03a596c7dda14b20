package workflow

import (
	"context"
	"fmt"
	"sync"

	"biotutor/internal/config"
	tutorerrors "biotutor/internal/errors"
	"biotutor/internal/llm"
	"biotutor/internal/logging"
	"biotutor/internal/session"
	"biotutor/internal/sse"
)

// Tutor orchestrates the whole engagement: the background analysis pipeline
// after an image upload, the Phase-1 chat state machine, and the Phase-2
// guided tutoring dialogue. It owns no session state itself; everything lives
// in the store and every mutation goes through typed store operations.
type Tutor struct {
	cfg      *config.Config
	store    *session.Store
	events   *sse.Publisher
	resolver *llm.Resolver
	stepGen  *StepGenerator
	guider   *StepGuider
	retry    tutorerrors.RetryConfig
	metrics  *Metrics
	logger   logging.Logger

	// Tutoring turns for one session are serialized so two concurrent
	// requests cannot both advance the same step.
	turnMu    sync.Mutex
	turnLocks map[string]*sync.Mutex
}

// TutorOption configures a Tutor.
type TutorOption func(*Tutor)

// WithRetryConfig overrides the model-call retry policy.
func WithRetryConfig(cfg tutorerrors.RetryConfig) TutorOption {
	return func(t *Tutor) { t.retry = cfg }
}

// WithTutorMetrics overrides the metrics instance, for tests with fresh
// registries.
func WithTutorMetrics(metrics *Metrics) TutorOption {
	return func(t *Tutor) { t.metrics = metrics }
}

// WithTutorLogger overrides the component logger.
func WithTutorLogger(logger logging.Logger) TutorOption {
	return func(t *Tutor) { t.logger = logging.OrNop(logger) }
}

// NewTutor wires the orchestrator over its collaborators.
func NewTutor(cfg *config.Config, store *session.Store, events *sse.Publisher, resolver *llm.Resolver, opts ...TutorOption) *Tutor {
	t := &Tutor{
		cfg:       cfg,
		store:     store,
		events:    events,
		resolver:  resolver,
		stepGen:   NewStepGenerator(cfg.Tutoring, logging.NewComponentLogger("StepGenerator")),
		guider:    NewStepGuider(cfg.Tutoring, logging.NewComponentLogger("StepGuider")),
		retry:     tutorerrors.DefaultRetryConfig(),
		logger:    logging.NewComponentLogger("Tutor"),
		turnLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = defaultMetrics()
	}
	return t
}

// turnLock returns the per-session tutoring mutex, creating it on first use.
func (t *Tutor) turnLock(sessionID string) *sync.Mutex {
	t.turnMu.Lock()
	defer t.turnMu.Unlock()
	mu, ok := t.turnLocks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		t.turnLocks[sessionID] = mu
	}
	return mu
}

// ReleaseSession drops per-session orchestrator state, called on deletion.
func (t *Tutor) ReleaseSession(sessionID string) {
	t.turnMu.Lock()
	defer t.turnMu.Unlock()
	delete(t.turnLocks, sessionID)
}

// client resolves the model client for a role, honoring per-session
// overrides.
func (t *Tutor) client(sess *session.Session, role config.Role) (llm.Client, error) {
	return t.resolver.Resolve(role, sess.ModelOverrides.ForRole(role))
}

// streamingClient resolves a role with guaranteed streaming support.
func (t *Tutor) streamingClient(sess *session.Session, role config.Role) (llm.StreamingClient, error) {
	return t.resolver.ResolveStreaming(role, sess.ModelOverrides.ForRole(role))
}

// completeWithRetry runs one model completion under the retry policy.
// Provider errors are classified so only transient failures are retried.
func (t *Tutor) completeWithRetry(ctx context.Context, client llm.Client, req llm.CompletionRequest) (string, error) {
	resp, err := tutorerrors.RetryWithResultAndLog(ctx, t.retry, func(ctx context.Context) (*llm.CompletionResponse, error) {
		resp, err := client.Complete(ctx, req)
		if err != nil {
			return nil, tutorerrors.ClassifyModelCall(err)
		}
		return resp, nil
	}, t.logger)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// GeneralChat answers a one-off question with no session state. Backs the
// stateless chat endpoint.
func (t *Tutor) GeneralChat(ctx context.Context, message string) (string, error) {
	if message == "" {
		return "", tutorerrors.InvalidInput("message must not be empty")
	}
	client, err := t.resolver.Resolve(config.RoleDeep, nil)
	if err != nil {
		return "", fmt.Errorf("resolve chat model: %w", err)
	}
	defaults := t.resolver.Defaults(config.RoleDeep)
	return t.completeWithRetry(ctx, client, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(generalChatPrompt, t.cfg.Tutoring.Persona, message),
		}},
		Temperature: defaults.Temperature,
		MaxTokens:   defaults.MaxTokens,
	})
}
