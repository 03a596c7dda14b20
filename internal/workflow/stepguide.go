package workflow

import (
	"context"
	"fmt"
	"strings"

	"biotutor/internal/config"
	"biotutor/internal/llm"
	"biotutor/internal/logging"
	"biotutor/internal/session"
)

// StepGuider drives a single guided step: escape detection, the summarize and
// explain turn, follow-up question generation, and the lenient completion
// check.
type StepGuider struct {
	cfg    config.TutoringConfig
	logger logging.Logger
}

// NewStepGuider builds a guider with the given tutoring policy.
func NewStepGuider(cfg config.TutoringConfig, logger logging.Logger) *StepGuider {
	return &StepGuider{cfg: cfg, logger: logging.OrNop(logger)}
}

// CheckEscape reports whether the student is asking to abandon the guided
// dialogue. Case-insensitive substring match against the configured phrase
// table.
func (g *StepGuider) CheckEscape(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range g.cfg.EscapePhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// ReplyCount counts the student turns in a step's conversation history.
func (g *StepGuider) ReplyCount(history []session.Message) int {
	count := 0
	for _, msg := range history {
		if msg.Role == "user" {
			count++
		}
	}
	return count
}

// FeedbackPhrase returns the rotating positive-feedback line for a step.
func (g *StepGuider) FeedbackPhrase(stepIndex int) string {
	phrases := g.cfg.FeedbackPhrases
	if len(phrases) == 0 {
		phrases = config.DefaultFeedbackPhrases()
	}
	return phrases[stepIndex%len(phrases)]
}

// SummarizeAndExplain acknowledges the student's answer and teaches the
// step's correct conclusion in full, streaming content through callbacks.
func (g *StepGuider) SummarizeAndExplain(ctx context.Context, client llm.StreamingClient, sess *session.Session, step *session.GuidedStep, answer string, callbacks llm.StreamCallbacks) (string, error) {
	prompt := fmt.Sprintf(summaryExplanationPrompt,
		g.cfg.Persona,
		sess.QuestionText,
		strings.Join(sess.KnowledgePoints, "；"),
		step.Title,
		step.Description,
		step.ExpectedUnderstanding,
		g.formatHistory(sess.StepHistory),
		answer,
	)
	resp, err := client.StreamComplete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.5,
	}, callbacks)
	if err != nil {
		return "", fmt.Errorf("summarize step %d: %w", step.Index+1, err)
	}
	return resp.Content, nil
}

// NextQuestion produces the next guiding question for the current step, or an
// encouragement to move on once the reply cap is reached.
func (g *StepGuider) NextQuestion(ctx context.Context, client llm.Client, sess *session.Session, step *session.GuidedStep, answer string, replyCount int) (string, error) {
	prompt := fmt.Sprintf(guidingPrompt,
		g.cfg.Persona,
		replyCount, g.cfg.MaxRepliesPerStep,
		replyCount, g.cfg.MaxRepliesPerStep,
		sess.QuestionText,
		strings.Join(sess.KnowledgePoints, "；"),
		sess.Checklist(),
		step.Index+1,
		step.Title,
		step.Description,
		step.ExpectedUnderstanding,
		g.formatHistory(sess.StepHistory),
		answer,
		replyCount,
	)
	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.5,
	})
	if err != nil {
		return "", fmt.Errorf("next question for step %d: %w", step.Index+1, err)
	}
	return strings.TrimSpace(resp.Content), nil
}

// GuideStep runs one full guiding turn: acknowledge and teach the latest
// answer, then ask the next question or encourage moving on. The summary
// stage is skipped on a step's first turn, where there is nothing to
// summarize yet.
func (g *StepGuider) GuideStep(ctx context.Context, client llm.StreamingClient, sess *session.Session, step *session.GuidedStep, answer string, replyCount int, skipSummary bool, callbacks llm.StreamCallbacks) (string, error) {
	var parts []string
	if !skipSummary {
		summary, err := g.SummarizeAndExplain(ctx, client, sess, step, answer, callbacks)
		if err != nil {
			// The question alone still carries the turn.
			g.logger.Warn("Step summary failed for step %d: %v", step.Index+1, err)
		} else if summary != "" {
			parts = append(parts, summary)
		}
	}

	question, err := g.NextQuestion(ctx, client, sess, step, answer, replyCount)
	if err != nil {
		if len(parts) == 0 {
			return "", err
		}
		g.logger.Warn("Next question generation failed for step %d: %v", step.Index+1, err)
		question = step.GuidingQuestion
	}
	parts = append(parts, question)
	return strings.Join(parts, "\n\n"), nil
}

// EvaluateCompletion runs the deliberately lenient completion rubric. The
// model replies 完成 or 继续; any model failure counts as not complete so the
// dialogue keeps guiding rather than skipping ahead on an outage.
func (g *StepGuider) EvaluateCompletion(ctx context.Context, client llm.Client, step *session.GuidedStep, history []session.Message, answer string) bool {
	prompt := fmt.Sprintf(evaluationPrompt,
		step.Title,
		step.Description,
		step.ExpectedUnderstanding,
		g.formatHistory(history),
		answer,
	)
	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		g.logger.Warn("Completion evaluation failed for step %d, treating as not complete: %v", step.Index+1, err)
		return false
	}
	return strings.Contains(resp.Content, "完成")
}

// formatHistory renders the recent step conversation for prompt context. Only
// the last HistoryWindow turns appear, each truncated to HistoryTruncateLen
// runes.
func (g *StepGuider) formatHistory(history []session.Message) string {
	if len(history) == 0 {
		return "（这是这一步的第一次对话）"
	}
	window := g.cfg.HistoryWindow
	if window <= 0 {
		window = 6
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}

	var b strings.Builder
	for i, msg := range history {
		label := "老师"
		if msg.Role == "user" {
			label = "学生"
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(label)
		b.WriteString("：")
		b.WriteString(truncateRunes(msg.Content, g.truncateLen()))
	}
	return b.String()
}

func (g *StepGuider) truncateLen() int {
	if g.cfg.HistoryTruncateLen > 0 {
		return g.cfg.HistoryTruncateLen
	}
	return 300
}
