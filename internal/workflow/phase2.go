package workflow

import (
	"context"
	"fmt"
	"strings"

	"biotutor/internal/config"
	"biotutor/internal/llm"
	"biotutor/internal/session"
)

// StreamEmitter receives the incremental output of one tutoring turn. The
// HTTP layer maps it straight onto the response event stream.
//
// Event types: "content" carries one streamed text fragment, "message" one
// complete assistant message, "tutoring_complete" the end of the whole
// dialogue.
type StreamEmitter func(eventType string, data map[string]any)

// Fixed texts of the guided dialogue.
const (
	analysisPendingMessage = "题目还在分析中，请稍候片刻再发送「开始」哦～"

	escapeIntroMessage = "我们开始一步步攻克这道题！如果中途想直接看答案，随时说「直接给我答案」就可以～"

	escapeAckMessage = "好的，那我直接把完整解答讲给你～"

	solutionMissingMessage = "抱歉，这道题的完整解答生成失败了，暂时没法直接讲解。你可以重新上传题目再试一次。"

	followUpInvite = "还有哪里不明白的话，随时问我哦～"
)

// followUpPrompt answers post-completion questions with the solved question
// as context.
const followUpPrompt = `%s

学生刚刚完成了这道题的辅导，现在有追问。

## 题目
%s

## 参考解答
%s

## 学生的追问
%s

请针对追问亲切地解答，控制在200字以内。`

// ProcessTutorStream advances the Phase-2 tutoring dialogue by one student
// turn, streaming output through emit. Turns for one session are serialized.
func (t *Tutor) ProcessTutorStream(ctx context.Context, sessionID, message string, emit StreamEmitter) error {
	if emit == nil {
		emit = func(string, map[string]any) {}
	}
	message = strings.TrimSpace(message)

	lock := t.turnLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := t.store.Get(sessionID)
	if err != nil {
		return err
	}
	t.metrics.incTurn(string(sess.Phase2State))

	switch sess.Phase2State {
	case session.Phase2AwaitingMode:
		return t.startTutoring(ctx, sess, message, emit)
	case session.Phase2GuidingStep:
		return t.guideTurn(ctx, sess, message, emit)
	default:
		return t.answerFollowUp(ctx, sess, message, emit)
	}
}

// startTutoring handles the first tutoring turn: direct mode replays the
// stored solution, guided mode generates the step list and opens step one.
// A style the Phase-1 chat never settled is parsed from this first message,
// defaulting to direct.
func (t *Tutor) startTutoring(ctx context.Context, sess *session.Session, message string, emit StreamEmitter) error {
	if sess.QuestionText == "" {
		emit("message", map[string]any{"content": analysisPendingMessage})
		return nil
	}

	if sess.TutoringStyle == "" {
		style, ok := parseStyleChoice(message)
		if !ok {
			style = session.StyleDirect
		}
		if err := t.store.Update(sess.ID, session.SessionUpdate{TutoringStyle: &style}); err != nil {
			return err
		}
		sess.TutoringStyle = style
		t.logger.Info("Tutoring style %s chosen at mode selection for session %s", style, sess.ID)
	}

	if sess.TutoringStyle == session.StyleDirect {
		t.emitDirectSolution(sess, emit)
		return t.finishTutoring(sess.ID, emit)
	}

	client, err := t.client(sess, config.RoleDeep)
	if err != nil {
		return fmt.Errorf("resolve tutoring model: %w", err)
	}
	steps := t.stepGen.Generate(ctx, client, sess.QuestionText, sess.Solution, sess.LogicChainSteps)
	if err := t.store.SetGuidedSteps(sess.ID, steps); err != nil {
		return err
	}

	sess, err = t.store.Get(sess.ID)
	if err != nil {
		return err
	}
	opening := fmt.Sprintf("%s\n\n%s\n\n%s",
		escapeIntroMessage,
		sess.Checklist(),
		formatStepOpening(sess.CurrentStep()),
	)
	if err := t.store.ResetStepHistory(sess.ID, []session.Message{{Role: "assistant", Content: opening}}); err != nil {
		return err
	}
	state := session.Phase2GuidingStep
	if err := t.store.Update(sess.ID, session.SessionUpdate{Phase2State: &state}); err != nil {
		return err
	}

	t.logger.Info("Guided tutoring started for session %s with %d steps", sess.ID, len(steps))
	emit("message", map[string]any{"content": opening})
	return nil
}

// guideTurn handles one student turn inside a guided step.
func (t *Tutor) guideTurn(ctx context.Context, sess *session.Session, message string, emit StreamEmitter) error {
	if t.guider.CheckEscape(message) {
		t.logger.Info("Escape phrase detected for session %s, switching to direct explanation", sess.ID)
		if err := t.store.MarkAllStepsComplete(sess.ID); err != nil {
			return err
		}
		emit("message", map[string]any{"content": escapeAckMessage})
		t.emitDirectSolution(sess, emit)
		return t.finishTutoring(sess.ID, emit)
	}

	step := sess.CurrentStep()
	if step == nil {
		return t.completeGuidedDialogue(sess, emit)
	}

	// 开始/继续 are navigation, not answers: re-present the current step
	// without evaluating anything.
	if message == "" || message == "开始" || message == "继续" {
		opening := formatStepOpening(step)
		emit("message", map[string]any{"content": opening})
		return nil
	}

	if err := t.store.AppendStepMessage(sess.ID, "user", message); err != nil {
		return err
	}
	sess.StepHistory = append(sess.StepHistory, session.Message{Role: "user", Content: message})
	replyCount := t.guider.ReplyCount(sess.StepHistory)

	quick, err := t.client(sess, config.RoleQuick)
	if err != nil {
		return fmt.Errorf("resolve evaluation model: %w", err)
	}
	if t.guider.EvaluateCompletion(ctx, quick, step, sess.StepHistory, message) {
		return t.advanceStep(ctx, sess, step, message, emit)
	}

	// Not understood: teach the latest answer and ask again. Past the reply
	// cap the guiding prompt switches from new questions to encouraging the
	// student onward, but the step itself only advances on understanding.
	deep, err := t.streamingClient(sess, config.RoleDeep)
	if err != nil {
		return fmt.Errorf("resolve tutoring model: %w", err)
	}
	reply, err := t.guider.GuideStep(ctx, deep, sess, step, message, replyCount, false, llm.StreamCallbacks{
		OnContentDelta: func(d llm.ContentDelta) {
			if !d.Final && d.Delta != "" {
				emit("content", map[string]any{"text": d.Delta})
			}
		},
	})
	if err != nil {
		// Keep the dialogue alive: fall back to repeating the step's own
		// guiding question.
		t.logger.Warn("Guiding turn failed for session %s: %v", sess.ID, err)
		reply = step.GuidingQuestion
	}
	if err := t.store.AppendStepMessage(sess.ID, "assistant", reply); err != nil {
		return err
	}
	emit("message", map[string]any{"content": reply})
	return nil
}

// advanceStep teaches the step's conclusion, marks it complete, and opens the
// next one or closes the dialogue.
func (t *Tutor) advanceStep(ctx context.Context, sess *session.Session, step *session.GuidedStep, answer string, emit StreamEmitter) error {
	deep, err := t.streamingClient(sess, config.RoleDeep)
	if err != nil {
		return fmt.Errorf("resolve tutoring model: %w", err)
	}

	explanation, err := t.guider.SummarizeAndExplain(ctx, deep, sess, step, answer, llm.StreamCallbacks{
		OnContentDelta: func(d llm.ContentDelta) {
			if !d.Final && d.Delta != "" {
				emit("content", map[string]any{"text": d.Delta})
			}
		},
	})
	if err != nil {
		// The explanation is enrichment; the step still advances on a
		// model failure.
		t.logger.Warn("Step explanation failed for session %s: %v", sess.ID, err)
		explanation = step.ExpectedUnderstanding
	}
	closing := fmt.Sprintf("%s\n\n✅ 步骤%d完成：%s\n%s",
		t.guider.FeedbackPhrase(step.Index), step.Index+1, step.Title, step.Description)
	emit("message", map[string]any{"content": explanation + "\n\n" + closing})

	allDone, err := t.store.MarkCurrentStepComplete(sess.ID)
	if err != nil {
		return err
	}

	sess, err = t.store.Get(sess.ID)
	if err != nil {
		return err
	}
	if allDone {
		return t.completeGuidedDialogue(sess, emit)
	}

	next := sess.CurrentStep()
	opening := fmt.Sprintf("%s\n\n%s", sess.Checklist(), formatStepOpening(next))
	if err := t.store.ResetStepHistory(sess.ID, []session.Message{{Role: "assistant", Content: opening}}); err != nil {
		return err
	}
	emit("message", map[string]any{"content": opening})
	return nil
}

// completeGuidedDialogue emits the final recap and closes both state
// machines. The recap walks every step with its description, then the
// knowledge and mistake sections.
func (t *Tutor) completeGuidedDialogue(sess *session.Session, emit StreamEmitter) error {
	var b strings.Builder
	b.WriteString("🎉 太棒了！我们一起完成了这道题的所有步骤！\n\n回顾一下完整的解题过程：\n\n")
	for _, step := range sess.GuidedSteps {
		b.WriteString(step.CheckboxLine())
		b.WriteString("\n   ")
		b.WriteString(step.Description)
		b.WriteString("\n\n")
	}
	if len(sess.KnowledgePoints) > 0 {
		b.WriteString("📚 涉及知识点：\n")
		for _, point := range sess.KnowledgePoints {
			b.WriteString("- ")
			b.WriteString(point)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(sess.CommonMistakes) > 0 {
		b.WriteString("⚠️ 易错点提醒：\n")
		for _, mistake := range sess.CommonMistakes {
			b.WriteString("- ")
			b.WriteString(mistake)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if sess.ThinkingPattern != "" {
		b.WriteString("🧠 解题思路回顾：")
		b.WriteString(sess.ThinkingPattern)
		b.WriteString("\n\n")
	}
	b.WriteString(followUpInvite)
	emit("message", map[string]any{"content": b.String()})
	return t.finishTutoring(sess.ID, emit)
}

// answerFollowUp handles questions after the dialogue completed.
func (t *Tutor) answerFollowUp(ctx context.Context, sess *session.Session, message string, emit StreamEmitter) error {
	if message == "" {
		emit("message", map[string]any{"content": followUpInvite})
		return nil
	}

	deep, err := t.streamingClient(sess, config.RoleDeep)
	if err != nil {
		return fmt.Errorf("resolve tutoring model: %w", err)
	}
	resp, err := deep.StreamComplete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: fmt.Sprintf(followUpPrompt, t.cfg.Tutoring.Persona, sess.QuestionText, sess.Solution, message),
		}},
		Temperature: 0.5,
	}, llm.StreamCallbacks{
		OnContentDelta: func(d llm.ContentDelta) {
			if !d.Final && d.Delta != "" {
				emit("content", map[string]any{"text": d.Delta})
			}
		},
	})
	if err != nil {
		return fmt.Errorf("answer follow-up: %w", err)
	}
	emit("message", map[string]any{"content": resp.Content})
	return nil
}

// emitDirectSolution replays the stored solution with knowledge and mistake
// sections. No model call; the pipeline already produced everything.
func (t *Tutor) emitDirectSolution(sess *session.Session, emit StreamEmitter) {
	if sess.Solution == "" {
		emit("message", map[string]any{"content": solutionMissingMessage})
		return
	}

	var b strings.Builder
	b.WriteString("📖 完整解答\n\n")
	b.WriteString(sess.Solution)
	if len(sess.KnowledgePoints) > 0 {
		b.WriteString("\n\n📚 涉及知识点：\n")
		for _, point := range sess.KnowledgePoints {
			b.WriteString("- ")
			b.WriteString(point)
			b.WriteString("\n")
		}
	}
	if len(sess.CommonMistakes) > 0 {
		b.WriteString("\n⚠️ 易错点提醒：\n")
		for _, mistake := range sess.CommonMistakes {
			b.WriteString("- ")
			b.WriteString(mistake)
			b.WriteString("\n")
		}
	}
	emit("message", map[string]any{"content": strings.TrimRight(b.String(), "\n")})
}

// finishTutoring closes both the Phase-2 and the conversation state machine.
func (t *Tutor) finishTutoring(sessionID string, emit StreamEmitter) error {
	phase2 := session.Phase2Completed
	state := session.StateCompleted
	if err := t.store.Update(sessionID, session.SessionUpdate{
		Phase2State:       &phase2,
		ConversationState: &state,
	}); err != nil {
		return err
	}
	emit("tutoring_complete", map[string]any{})
	t.logger.Info("Tutoring completed for session %s", sessionID)
	return nil
}

// formatStepOpening renders the framing and guiding question of one step.
func formatStepOpening(step *session.GuidedStep) string {
	if step == nil {
		return ""
	}
	return fmt.Sprintf("📍 第%d步：%s\n%s\n\n❓ %s", step.Index+1, step.Title, step.Description, step.GuidingQuestion)
}
