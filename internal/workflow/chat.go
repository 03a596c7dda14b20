package workflow

import (
	"context"
	"strings"

	tutorerrors "biotutor/internal/errors"
	"biotutor/internal/session"
)

// Fixed conversational texts of the Phase-1 state machine. These are part of
// the product surface, not prompt engineering, so they live as constants
// rather than model calls.
const (
	// GreetingMessage opens every new session.
	GreetingMessage = "你好呀！我是你的生物辅导老师～📚 把题目拍照上传给我，我会帮你分析这道题考什么、怎么解。上传之后随时可以跟我聊～"

	askThinkingMessage = "收到！我已经在分析这道题了。趁这个时间，先告诉我：你对这道题有什么思路或想法吗？哪怕只是猜测也没关系哦～🤔"

	askStyleMessage = "明白你的想法啦！那你希望我怎么帮你呢？\n1. 一步步引导你自己解出来（推荐，更有成就感～）\n2. 直接给你讲解完整答案\n回复 1 或 2 告诉我吧！"

	styleRetryMessage = "没看懂你的选择呢～回复 1（一步步引导）或 2（直接讲解）就可以啦！"

	styleGuidedConfirm = "好的！那我们一步步来。准备好了就发送「开始」，进入辅导环节吧！💪"

	styleDirectConfirm = "好的！准备好了就发送「开始」，我把完整的解答讲给你听～"

	styleChosenAnalyzing = "选好啦！不过题目还在分析中，稍等片刻，分析完成后发送「开始」就能进入辅导了～"

	inTutoringRedirect = "我们已经进入辅导环节啦，请在辅导对话里继续和我互动哦～"

	sessionDoneMessage = "这道题的辅导已经完成啦！如果还有新题目，开一个新会话再来找我吧～🎉"
)

// ProcessMessage advances the Phase-1 conversation by one student turn and
// returns the teacher's reply. Both turns are appended to the transcript.
func (t *Tutor) ProcessMessage(ctx context.Context, sessionID, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", tutorerrors.InvalidInput("message must not be empty")
	}

	sess, err := t.store.Get(sessionID)
	if err != nil {
		return "", err
	}
	t.metrics.incTurn("conversation")

	if err := t.store.AddMessage(sessionID, "user", message); err != nil {
		return "", err
	}

	var reply string
	switch sess.ConversationState {
	case session.StateInitial:
		reply = askThinkingMessage
		err = t.store.SetConversationState(sessionID, session.StateAwaitingThinking)

	case session.StateAwaitingThinking:
		state := session.StateAwaitingStyle
		reply = askStyleMessage
		err = t.store.Update(sessionID, session.SessionUpdate{
			UserThinking:      &message,
			ConversationState: &state,
		})

	case session.StateAwaitingStyle:
		style, ok := parseStyleChoice(message)
		if !ok {
			reply = styleRetryMessage
			break
		}
		state := session.StateTutoring
		err = t.store.Update(sessionID, session.SessionUpdate{
			TutoringStyle:     &style,
			ConversationState: &state,
		})
		switch {
		case sess.QuestionText == "":
			reply = styleChosenAnalyzing
		case style == session.StyleGuided:
			reply = styleGuidedConfirm
		default:
			reply = styleDirectConfirm
		}

	case session.StateTutoring:
		reply = inTutoringRedirect

	case session.StateCompleted:
		reply = sessionDoneMessage

	default:
		return "", tutorerrors.InvalidInput("unknown conversation state: " + string(sess.ConversationState))
	}
	if err != nil {
		return "", err
	}

	if err := t.store.AddMessage(sessionID, "assistant", reply); err != nil {
		return "", err
	}
	return reply, nil
}

// parseStyleChoice maps a free-form answer to a tutoring style. "1" or any
// mention of guiding picks guided; "2" or a request for the direct answer
// picks direct.
func parseStyleChoice(message string) (session.TutoringStyle, bool) {
	switch {
	case strings.Contains(message, "1") || strings.Contains(message, "引导"):
		return session.StyleGuided, true
	case strings.Contains(message, "2") || strings.Contains(message, "直接"):
		return session.StyleDirect, true
	default:
		return "", false
	}
}
