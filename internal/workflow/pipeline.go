package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"biotutor/internal/config"
	tutorerrors "biotutor/internal/errors"
	"biotutor/internal/llm"
	"biotutor/internal/session"
)

// pipelineTimeout bounds one full analysis run, all retries included.
const pipelineTimeout = 10 * time.Minute

// ProcessImage validates the upload and launches the analysis pipeline in the
// background. The HTTP request returns immediately; progress arrives over the
// event stream.
func (t *Tutor) ProcessImage(ctx context.Context, sessionID string, image []byte, mimeType string) error {
	sess, err := t.store.Get(sessionID)
	if err != nil {
		return err
	}
	if len(image) == 0 {
		return tutorerrors.InvalidInput("image must not be empty")
	}
	vision, err := sess.Task(session.TaskVisionExtraction)
	if err != nil {
		return err
	}
	if vision.Status != session.TaskPending {
		return tutorerrors.InvalidInput(fmt.Sprintf("analysis already started for session %q", sessionID))
	}

	go t.runPipeline(sessionID, image, mimeType)
	return nil
}

// runPipeline executes the staged analysis: vision extraction gates
// everything, exam points and the deep solution run in parallel, and the two
// solution-derived analyses run once the solution lands. A failed stage
// settles as FAILED without blocking its siblings; stages downstream of a
// failed gate stay PENDING.
func (t *Tutor) runPipeline(sessionID string, image []byte, mimeType string) {
	ctx, cancel := context.WithTimeout(context.Background(), pipelineTimeout)
	defer cancel()

	t.metrics.addPipelines(1)
	defer t.metrics.addPipelines(-1)

	t.logger.Info("Analysis pipeline started for session %s", sessionID)

	if err := t.runVisionStage(ctx, sessionID, image, mimeType); err != nil {
		t.logger.Warn("Vision extraction failed for session %s, dependent stages stay pending", sessionID)
		return
	}

	sess, err := t.store.Get(sessionID)
	if err != nil {
		t.logger.Error("Session %s vanished mid-pipeline: %v", sessionID, err)
		return
	}

	// Wave one: both stages read only the question text. Each handles its
	// own failure and returns nil so one failing never cancels the other.
	deepOK := false
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		t.runExamPointsStage(groupCtx, sess)
		return nil
	})
	group.Go(func() error {
		deepOK = t.runDeepSolutionStage(groupCtx, sess)
		return nil
	})
	_ = group.Wait()

	// Wave two: both stages read the solution, so a failed solution gate
	// leaves them pending.
	if deepOK {
		sess, err = t.store.Get(sessionID)
		if err != nil {
			t.logger.Error("Session %s vanished mid-pipeline: %v", sessionID, err)
			return
		}
		group, groupCtx = errgroup.WithContext(ctx)
		group.Go(func() error {
			t.runKnowledgeStage(groupCtx, sess)
			return nil
		})
		group.Go(func() error {
			t.runLogicChainStage(groupCtx, sess)
			return nil
		})
		_ = group.Wait()
	}

	t.checkSessionComplete(sessionID)
	t.logger.Info("Analysis pipeline finished for session %s", sessionID)
}

func (t *Tutor) runVisionStage(ctx context.Context, sessionID string, image []byte, mimeType string) error {
	sess, err := t.store.Get(sessionID)
	if err != nil {
		return err
	}

	task := session.TaskVisionExtraction
	t.startStage(sessionID, task)
	start := time.Now()
	defer func() { t.metrics.observeStage(string(task), time.Since(start).Seconds()) }()

	client, err := t.client(sess, config.RoleVision)
	if err != nil {
		t.failStage(sessionID, task, err)
		return err
	}

	defaults := t.resolver.Defaults(config.RoleVision)
	raw, err := t.completeWithRetry(ctx, client, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: visionPrompt,
			Images:  []llm.ImageAttachment{{Data: image, MimeType: mimeType}},
		}},
		Temperature: defaults.Temperature,
		MaxTokens:   defaults.MaxTokens,
	})
	if err != nil {
		t.failStage(sessionID, task, err)
		return err
	}

	questionText := strings.TrimSpace(raw)
	if questionText == "" {
		err := tutorerrors.Wrap(tutorerrors.KindExtractionParseFailure, errors.New("vision model returned empty question text"), "")
		t.failStage(sessionID, task, err)
		return err
	}

	if err := t.store.Update(sessionID, session.SessionUpdate{QuestionText: &questionText}); err != nil {
		t.failStage(sessionID, task, err)
		return err
	}
	t.completeStage(sessionID, task, raw, map[string]any{"question_text": questionText})
	return nil
}

func (t *Tutor) runExamPointsStage(ctx context.Context, sess *session.Session) {
	task := session.TaskExamPoints
	t.startStage(sess.ID, task)
	start := time.Now()
	defer func() { t.metrics.observeStage(string(task), time.Since(start).Seconds()) }()

	client, err := t.client(sess, config.RoleQuick)
	if err != nil {
		t.failStage(sess.ID, task, err)
		return
	}

	defaults := t.resolver.Defaults(config.RoleQuick)
	raw, err := t.completeWithRetry(ctx, client, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(examPointsPrompt, sess.QuestionText)}},
		Temperature: defaults.Temperature,
		MaxTokens:   defaults.MaxTokens,
	})
	if err != nil {
		t.failStage(sess.ID, task, err)
		return
	}

	parsed := ParseExamPoints(raw)
	if err := t.store.Update(sess.ID, session.SessionUpdate{ExamPoints: parsed.ExamPoints}); err != nil {
		t.failStage(sess.ID, task, err)
		return
	}
	t.completeStage(sess.ID, task, raw, map[string]any{
		"exam_points": parsed.ExamPoints,
		"chapter":     parsed.Chapter,
		"difficulty":  parsed.Difficulty,
	})
}

func (t *Tutor) runDeepSolutionStage(ctx context.Context, sess *session.Session) bool {
	task := session.TaskDeepSolution
	t.startStage(sess.ID, task)
	start := time.Now()
	defer func() { t.metrics.observeStage(string(task), time.Since(start).Seconds()) }()

	client, err := t.client(sess, config.RoleDeep)
	if err != nil {
		t.failStage(sess.ID, task, err)
		return false
	}

	defaults := t.resolver.Defaults(config.RoleDeep)
	raw, err := t.completeWithRetry(ctx, client, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(solutionPrompt, t.cfg.Tutoring.Persona, sess.QuestionText)}},
		Temperature: defaults.Temperature,
		MaxTokens:   defaults.MaxTokens,
	})
	if err != nil {
		t.failStage(sess.ID, task, err)
		return false
	}

	solution := strings.TrimSpace(raw)
	if err := t.store.Update(sess.ID, session.SessionUpdate{Solution: &solution}); err != nil {
		t.failStage(sess.ID, task, err)
		return false
	}
	t.completeStage(sess.ID, task, raw, map[string]any{"solution": solution})
	return true
}

func (t *Tutor) runKnowledgeStage(ctx context.Context, sess *session.Session) {
	task := session.TaskKnowledgePoints
	t.startStage(sess.ID, task)
	start := time.Now()
	defer func() { t.metrics.observeStage(string(task), time.Since(start).Seconds()) }()

	client, err := t.client(sess, config.RoleQuick)
	if err != nil {
		t.failStage(sess.ID, task, err)
		return
	}

	defaults := t.resolver.Defaults(config.RoleQuick)
	raw, err := t.completeWithRetry(ctx, client, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(knowledgePrompt, sess.QuestionText, sess.Solution)}},
		Temperature: defaults.Temperature,
		MaxTokens:   defaults.MaxTokens,
	})
	if err != nil {
		t.failStage(sess.ID, task, err)
		return
	}

	parsed := ParseKnowledge(raw)
	if err := t.store.Update(sess.ID, session.SessionUpdate{
		KnowledgePoints: parsed.KnowledgePoints,
		CommonMistakes:  parsed.CommonMistakes,
	}); err != nil {
		t.failStage(sess.ID, task, err)
		return
	}
	t.completeStage(sess.ID, task, raw, map[string]any{
		"knowledge_points": parsed.KnowledgePoints,
		"common_mistakes":  parsed.CommonMistakes,
		"related_topics":   parsed.RelatedTopics,
	})
}

func (t *Tutor) runLogicChainStage(ctx context.Context, sess *session.Session) {
	task := session.TaskLogicChain
	t.startStage(sess.ID, task)
	start := time.Now()
	defer func() { t.metrics.observeStage(string(task), time.Since(start).Seconds()) }()

	client, err := t.client(sess, config.RoleQuick)
	if err != nil {
		t.failStage(sess.ID, task, err)
		return
	}

	defaults := t.resolver.Defaults(config.RoleQuick)
	raw, err := t.completeWithRetry(ctx, client, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(logicChainPrompt, sess.QuestionText, sess.Solution)}},
		Temperature: defaults.Temperature,
		MaxTokens:   defaults.MaxTokens,
	})
	if err != nil {
		t.failStage(sess.ID, task, err)
		return
	}

	parsed := ParseLogicChain(raw)
	if err := t.store.Update(sess.ID, session.SessionUpdate{
		LogicChainSteps: parsed.Steps,
		ThinkingPattern: &parsed.ThinkingPattern,
	}); err != nil {
		t.failStage(sess.ID, task, err)
		return
	}
	t.completeStage(sess.ID, task, raw, map[string]any{
		"steps":            parsed.Steps,
		"thinking_pattern": parsed.ThinkingPattern,
	})
}

func (t *Tutor) startStage(sessionID string, task session.TaskName) {
	if err := t.store.UpdateTaskStatus(sessionID, task, session.TaskRunning, "", ""); err != nil {
		t.logger.Error("Failed to mark task %s running for session %s: %v", task, sessionID, err)
	}
}

// failStage settles a task as FAILED. Only the friendly message reaches the
// session and the event stream; the technical detail stays in the logs.
func (t *Tutor) failStage(sessionID string, task session.TaskName, cause error) {
	kind := tutorerrors.KindOf(cause)
	friendly := tutorerrors.FriendlyMessage(kind)

	t.logger.Error("Task %s failed for session %s (%s): %v", task, sessionID, kind, cause)
	if err := t.store.UpdateTaskStatus(sessionID, task, session.TaskFailed, "", friendly); err != nil {
		t.logger.Error("Failed to mark task %s failed for session %s: %v", task, sessionID, err)
	}
	t.events.PublishTaskFailed(sessionID, task, friendly)
	t.metrics.incFailure(string(task), kind.String())
}

func (t *Tutor) completeStage(sessionID string, task session.TaskName, raw string, data map[string]any) {
	if err := t.store.UpdateTaskStatus(sessionID, task, session.TaskCompleted, raw, ""); err != nil {
		t.logger.Error("Failed to mark task %s completed for session %s: %v", task, sessionID, err)
		return
	}
	t.events.PublishTaskCompleted(sessionID, task, data)
	t.logger.Info("Task %s completed for session %s", task, sessionID)
}

// checkSessionComplete publishes session_complete once every task settled.
// FAILED is a terminal state, so a session with failures still completes;
// tasks left PENDING behind a failed gate keep the session open.
func (t *Tutor) checkSessionComplete(sessionID string) {
	sess, err := t.store.Get(sessionID)
	if err != nil {
		return
	}
	if !sess.AllTasksDone() {
		return
	}

	statuses := make(map[string]any, len(sess.Tasks))
	for name, task := range sess.Tasks {
		statuses[string(name)] = string(task.Status)
	}
	t.events.PublishSessionComplete(sessionID, map[string]any{"tasks": statuses})
	t.logger.Info("All analysis tasks settled for session %s", sessionID)
	t.logger.Info("Phase 1 fully complete for session %s: %t (user_thinking set: %t, tutoring_style set: %t)",
		sessionID, sess.UserThinking != "" && sess.TutoringStyle != "", sess.UserThinking != "", sess.TutoringStyle != "")
}
