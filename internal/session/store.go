package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	tutorerrors "biotutor/internal/errors"
	"biotutor/internal/logging"
)

// SessionUpdate is a typed partial update. Nil fields are left untouched, so
// an invalid field name is a compile error rather than a runtime fault.
type SessionUpdate struct {
	ConversationState *ConversationState
	QuestionText      *string
	ExamPoints        []string
	Solution          *string
	KnowledgePoints   []string
	CommonMistakes    []string
	LogicChainSteps   []string
	ThinkingPattern   *string
	UserThinking      *string
	TutoringStyle     *TutoringStyle
	Phase2State       *Phase2State
}

// Store is the single authoritative, concurrency-safe map from session id to
// Session. All mutations run under one lock; reads hand out deep copies so no
// caller can cache a snapshot and write it back.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   logging.Logger
}

// NewStore builds an empty store.
func NewStore(logger logging.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		logger:   logging.OrNop(logger),
	}
}

// Create inserts a fresh session under a new unique id.
func (s *Store) Create(overrides *ModelOverrides) (*Session, error) {
	return s.CreateWithID(uuid.NewString(), overrides)
}

// CreateWithID inserts a fresh session under the given id. An existing id is
// rejected, never overwritten.
func (s *Store) CreateWithID(id string, overrides *ModelOverrides) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; exists {
		return nil, tutorerrors.InvalidInput(fmt.Sprintf("session %q already exists", id))
	}

	sess := NewSession(id, overrides)
	s.sessions[id] = sess
	s.logger.Info("Session created: %s", id)
	return sess.Clone(), nil
}

// Get returns a deep copy of the session.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, tutorerrors.NotFound("session", id)
	}
	return sess.Clone(), nil
}

// Update atomically applies the non-nil fields of upd.
func (s *Store) Update(id string, upd SessionUpdate) error {
	return s.mutate(id, func(sess *Session) error {
		if upd.ConversationState != nil {
			sess.ConversationState = *upd.ConversationState
		}
		if upd.QuestionText != nil {
			sess.QuestionText = *upd.QuestionText
		}
		if upd.ExamPoints != nil {
			sess.ExamPoints = append([]string(nil), upd.ExamPoints...)
		}
		if upd.Solution != nil {
			sess.Solution = *upd.Solution
		}
		if upd.KnowledgePoints != nil {
			sess.KnowledgePoints = append([]string(nil), upd.KnowledgePoints...)
		}
		if upd.CommonMistakes != nil {
			sess.CommonMistakes = append([]string(nil), upd.CommonMistakes...)
		}
		if upd.LogicChainSteps != nil {
			sess.LogicChainSteps = append([]string(nil), upd.LogicChainSteps...)
		}
		if upd.ThinkingPattern != nil {
			sess.ThinkingPattern = *upd.ThinkingPattern
		}
		if upd.UserThinking != nil {
			sess.UserThinking = *upd.UserThinking
		}
		if upd.TutoringStyle != nil {
			sess.TutoringStyle = *upd.TutoringStyle
		}
		if upd.Phase2State != nil {
			sess.Phase2State = *upd.Phase2State
		}
		return nil
	})
}

// UpdateTaskStatus transitions one task through the matching TaskState
// operation so timestamps and result/error stay consistent.
func (s *Store) UpdateTaskStatus(id string, name TaskName, status TaskStatus, result, errMsg string) error {
	return s.mutate(id, func(sess *Session) error {
		task, err := sess.Task(name)
		if err != nil {
			return tutorerrors.NotFound("task", string(name))
		}
		switch status {
		case TaskRunning:
			return task.Start()
		case TaskCompleted:
			return task.Complete(result)
		case TaskFailed:
			return task.Fail(errMsg)
		default:
			return fmt.Errorf("unsupported task transition to %s", status)
		}
	})
}

// SetConversationState is a convenience wrapper over Update.
func (s *Store) SetConversationState(id string, state ConversationState) error {
	return s.Update(id, SessionUpdate{ConversationState: &state})
}

// AddMessage appends one turn to the full chat transcript.
func (s *Store) AddMessage(id, role, content string) error {
	return s.mutate(id, func(sess *Session) error {
		sess.Messages = append(sess.Messages, Message{Role: role, Content: content})
		return nil
	})
}

// AppendStepMessage appends one turn to the current step's conversation
// history. Persisted immediately so a crash mid-turn never loses it.
func (s *Store) AppendStepMessage(id, role, content string) error {
	return s.mutate(id, func(sess *Session) error {
		sess.StepHistory = append(sess.StepHistory, Message{Role: role, Content: content})
		return nil
	})
}

// ResetStepHistory replaces the step history, used when a new step begins.
func (s *Store) ResetStepHistory(id string, history []Message) error {
	return s.mutate(id, func(sess *Session) error {
		sess.StepHistory = append([]Message(nil), history...)
		return nil
	})
}

// SetGuidedSteps installs the generated step list and resets the cursor.
func (s *Store) SetGuidedSteps(id string, steps []GuidedStep) error {
	return s.mutate(id, func(sess *Session) error {
		sess.GuidedSteps = append([]GuidedStep(nil), steps...)
		sess.CurrentStepIndex = 0
		return nil
	})
}

// MarkCurrentStepComplete advances the step cursor; reports all-done.
func (s *Store) MarkCurrentStepComplete(id string) (bool, error) {
	done := false
	err := s.mutate(id, func(sess *Session) error {
		done = sess.MarkCurrentStepComplete()
		return nil
	})
	return done, err
}

// MarkAllStepsComplete completes every step, used by the escape path.
func (s *Store) MarkAllStepsComplete(id string) error {
	return s.mutate(id, func(sess *Session) error {
		sess.MarkAllStepsComplete()
		return nil
	})
}

// Delete removes the session; reports whether one was removed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.logger.Info("Session deleted: %s", id)
	return true
}

// CleanupOld removes every session older than maxAge and returns the removed
// ids so the caller can clear publisher state for them.
func (s *Store) CleanupOld(maxAge time.Duration) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		s.logger.Info("Cleaned up %d expired sessions", len(removed))
	}
	return removed
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) mutate(id string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return tutorerrors.NotFound("session", id)
	}
	return fn(sess)
}
