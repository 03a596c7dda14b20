package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"biotutor/internal/llm"
	"biotutor/internal/session"
)

func TestCheckEscape(t *testing.T) {
	guider := NewStepGuider(testTutoringConfig(), nil)

	assert.True(t, guider.CheckEscape("算了，直接给我答案吧"))
	assert.True(t, guider.CheckEscape("我想跳过这一步"))
	assert.True(t, guider.CheckEscape("Just GIVE me the answer"))
	assert.False(t, guider.CheckEscape("我觉得答案是线粒体"))
	assert.False(t, guider.CheckEscape(""))
}

func TestReplyCount(t *testing.T) {
	guider := NewStepGuider(testTutoringConfig(), nil)

	history := []session.Message{
		{Role: "assistant", Content: "问题？"},
		{Role: "user", Content: "回答一"},
		{Role: "assistant", Content: "追问？"},
		{Role: "user", Content: "回答二"},
	}
	assert.Equal(t, 2, guider.ReplyCount(history))
	assert.Zero(t, guider.ReplyCount(nil))
}

func TestFeedbackPhraseRotates(t *testing.T) {
	cfg := testTutoringConfig()
	guider := NewStepGuider(cfg, nil)

	assert.Equal(t, cfg.FeedbackPhrases[0], guider.FeedbackPhrase(0))
	assert.Equal(t, cfg.FeedbackPhrases[1], guider.FeedbackPhrase(1))
	assert.Equal(t, cfg.FeedbackPhrases[0], guider.FeedbackPhrase(len(cfg.FeedbackPhrases)))
}

func TestEvaluateCompletionKeyword(t *testing.T) {
	guider := NewStepGuider(testTutoringConfig(), nil)
	step := &session.GuidedStep{Index: 0, Title: "分析条件", ExpectedUnderstanding: "1000kJ"}

	done := guider.EvaluateCompletion(context.Background(), llm.NewMockClient("完成"), step, nil, "1000kJ")
	assert.True(t, done)

	notDone := guider.EvaluateCompletion(context.Background(), llm.NewMockClient("继续"), step, nil, "不知道")
	assert.False(t, notDone)
}

func TestEvaluateCompletionFailsClosed(t *testing.T) {
	guider := NewStepGuider(testTutoringConfig(), nil)
	step := &session.GuidedStep{Index: 0, Title: "分析条件"}

	// A model outage must not skip the student ahead.
	done := guider.EvaluateCompletion(context.Background(), llm.NewMockClientError(errors.New("down")), step, nil, "回答")
	assert.False(t, done)
}

func TestFormatHistoryEmpty(t *testing.T) {
	guider := NewStepGuider(testTutoringConfig(), nil)
	assert.Equal(t, "（这是这一步的第一次对话）", guider.formatHistory(nil))
}

func TestFormatHistoryWindowAndLabels(t *testing.T) {
	cfg := testTutoringConfig()
	cfg.HistoryWindow = 2
	guider := NewStepGuider(cfg, nil)

	history := []session.Message{
		{Role: "assistant", Content: "最早的，应当被窗口裁掉"},
		{Role: "user", Content: "学生的话"},
		{Role: "assistant", Content: "老师的话"},
	}
	got := guider.formatHistory(history)

	assert.NotContains(t, got, "最早的")
	assert.Contains(t, got, "学生：学生的话")
	assert.Contains(t, got, "老师：老师的话")
}

func TestFormatHistoryTruncatesLongTurns(t *testing.T) {
	cfg := testTutoringConfig()
	cfg.HistoryTruncateLen = 5
	guider := NewStepGuider(cfg, nil)

	history := []session.Message{{Role: "user", Content: "一二三四五六七八"}}
	got := guider.formatHistory(history)

	assert.True(t, strings.HasSuffix(got, "一二三四五…"), got)
}

func TestGuideStepComposesSummaryAndQuestion(t *testing.T) {
	guider := NewStepGuider(testTutoringConfig(), nil)
	client := llm.EnsureStreaming(tutoringMock("继续"))

	sess := session.NewSession("s1", nil)
	sess.QuestionText = "能量流动题"
	step := &session.GuidedStep{Index: 0, Title: "分析条件", Description: "找数值", GuidingQuestion: "固定问题？", ExpectedUnderstanding: "1000kJ"}

	reply, err := guider.GuideStep(context.Background(), client, sess, step, "总能量1000kJ", 1, false, llm.StreamCallbacks{})
	assert.NoError(t, err)
	assert.Contains(t, reply, "能量传递效率为10%-20%")
	assert.Contains(t, reply, "\n\n")
	assert.Contains(t, reply, "那么草固定的总能量是多少千焦呢？")
}

func TestGuideStepSkipsSummaryOnFirstTurn(t *testing.T) {
	guider := NewStepGuider(testTutoringConfig(), nil)
	client := llm.EnsureStreaming(tutoringMock("继续"))

	sess := session.NewSession("s1", nil)
	step := &session.GuidedStep{Index: 0, Title: "分析条件", GuidingQuestion: "固定问题？"}

	reply, err := guider.GuideStep(context.Background(), client, sess, step, "开始", 0, true, llm.StreamCallbacks{})
	assert.NoError(t, err)
	assert.Equal(t, "那么草固定的总能量是多少千焦呢？", reply)
}

func TestGuideStepFailsWhenNothingGenerated(t *testing.T) {
	guider := NewStepGuider(testTutoringConfig(), nil)
	client := llm.EnsureStreaming(llm.NewMockClientError(errors.New("down")))

	sess := session.NewSession("s1", nil)
	step := &session.GuidedStep{Index: 0, Title: "分析条件", GuidingQuestion: "固定问题？"}

	_, err := guider.GuideStep(context.Background(), client, sess, step, "回答", 1, false, llm.StreamCallbacks{})
	assert.Error(t, err)
}

func TestNextQuestionUsesStepContext(t *testing.T) {
	guider := NewStepGuider(testTutoringConfig(), nil)
	mock := llm.NewMockClient("草固定的太阳能总量是多少千焦？")

	sess := session.NewSession("s1", nil)
	sess.QuestionText = "能量流动题"
	step := &session.GuidedStep{Index: 0, Title: "分析条件", Description: "找数值", ExpectedUnderstanding: "1000kJ"}

	question, err := guider.NextQuestion(context.Background(), mock, sess, step, "我不太确定", 1)
	assert.NoError(t, err)
	assert.Equal(t, "草固定的太阳能总量是多少千焦？", question)

	// The prompt carries the question and the step's target.
	sent := mock.Requests[0].Messages[0].Content
	assert.Contains(t, sent, "能量流动题")
	assert.Contains(t, sent, "1000kJ")
}
