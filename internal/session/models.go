package session

import (
	"fmt"
	"time"

	"biotutor/internal/config"
)

// ConversationState governs Phase-1 chat routing.
type ConversationState string

const (
	StateInitial          ConversationState = "initial"
	StateAwaitingThinking ConversationState = "awaiting_thinking"
	StateAwaitingStyle    ConversationState = "awaiting_style"
	StateTutoring         ConversationState = "tutoring"
	StateCompleted        ConversationState = "completed"
)

// Phase2State is the nested guided-tutoring state machine.
type Phase2State string

const (
	Phase2AwaitingMode Phase2State = "awaiting_mode"
	Phase2DirectOutput Phase2State = "direct_output"
	Phase2GuidingStep  Phase2State = "guiding_step"
	Phase2Completed    Phase2State = "completed"
)

// TutoringStyle is the student's chosen delivery mode.
type TutoringStyle string

const (
	StyleGuided TutoringStyle = "guided"
	StyleDirect TutoringStyle = "direct"
)

// TaskStatus is the lifecycle of one background analysis task. Transitions
// are monotonic: PENDING → RUNNING → COMPLETED | FAILED.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskName identifies one of the five fixed analysis tasks.
type TaskName string

const (
	TaskVisionExtraction TaskName = "vision_extraction"
	TaskExamPoints       TaskName = "exam_points"
	TaskDeepSolution     TaskName = "deep_solution"
	TaskKnowledgePoints  TaskName = "knowledge_points"
	TaskLogicChain       TaskName = "logic_chain"
)

// AllTaskNames returns the fixed task set in pipeline order.
func AllTaskNames() []TaskName {
	return []TaskName{
		TaskVisionExtraction,
		TaskExamPoints,
		TaskDeepSolution,
		TaskKnowledgePoints,
		TaskLogicChain,
	}
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TaskState tracks one background unit of work.
type TaskState struct {
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Start moves the task to RUNNING. Only a PENDING task may start.
func (t *TaskState) Start() error {
	if t.Status != TaskPending {
		return fmt.Errorf("cannot start task in status %s", t.Status)
	}
	now := time.Now()
	t.Status = TaskRunning
	t.StartedAt = &now
	return nil
}

// Complete moves the task to COMPLETED with its raw result.
func (t *TaskState) Complete(result string) error {
	if t.Status == TaskCompleted || t.Status == TaskFailed {
		return fmt.Errorf("cannot complete task in terminal status %s", t.Status)
	}
	now := time.Now()
	t.Status = TaskCompleted
	t.Result = result
	t.CompletedAt = &now
	return nil
}

// Fail moves the task to FAILED with a human-readable message.
func (t *TaskState) Fail(message string) error {
	if t.Status == TaskCompleted || t.Status == TaskFailed {
		return fmt.Errorf("cannot fail task in terminal status %s", t.Status)
	}
	now := time.Now()
	t.Status = TaskFailed
	t.Error = message
	t.CompletedAt = &now
	return nil
}

// Done reports whether the task reached a terminal state. Failure counts as
// done, not as blocking.
func (t *TaskState) Done() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// GuidedStep is one interactive checkpoint of the guided dialogue.
type GuidedStep struct {
	Index                 int    `json:"index"`
	Title                 string `json:"title"`
	Description           string `json:"description"`
	GuidingQuestion       string `json:"guiding_question"`
	ExpectedUnderstanding string `json:"expected_understanding"`
	Completed             bool   `json:"completed"`
}

// CheckboxLine renders the step as a checklist entry.
func (s GuidedStep) CheckboxLine() string {
	box := "☐"
	if s.Completed {
		box = "☑"
	}
	return fmt.Sprintf("%s 步骤%d: %s", box, s.Index+1, s.Title)
}

// ModelOverrides carries caller-supplied per-role model settings. Absent
// roles use the process-wide defaults.
type ModelOverrides struct {
	Vision *config.ModelConfig `json:"vision,omitempty"`
	Quick  *config.ModelConfig `json:"quick,omitempty"`
	Deep   *config.ModelConfig `json:"deep,omitempty"`
}

// ForRole returns the override for a role, or nil.
func (m *ModelOverrides) ForRole(role config.Role) *config.ModelConfig {
	if m == nil {
		return nil
	}
	switch role {
	case config.RoleVision:
		return m.Vision
	case config.RoleQuick:
		return m.Quick
	default:
		return m.Deep
	}
}

// Session is one tutoring engagement scoped to a single uploaded question.
type Session struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	ModelOverrides *ModelOverrides `json:"model_overrides,omitempty"`

	ConversationState ConversationState       `json:"conversation_state"`
	Messages          []Message               `json:"messages"`
	Tasks             map[TaskName]*TaskState `json:"tasks"`

	// Result fields populated by completed tasks.
	QuestionText    string   `json:"question_text,omitempty"`
	ExamPoints      []string `json:"exam_points,omitempty"`
	Solution        string   `json:"solution,omitempty"`
	KnowledgePoints []string `json:"knowledge_points,omitempty"`
	CommonMistakes  []string `json:"common_mistakes,omitempty"`
	LogicChainSteps []string `json:"logic_chain_steps,omitempty"`
	ThinkingPattern string   `json:"thinking_pattern,omitempty"`

	UserThinking  string        `json:"user_thinking,omitempty"`
	TutoringStyle TutoringStyle `json:"tutoring_style,omitempty"`

	Phase2State      Phase2State  `json:"phase2_state"`
	GuidedSteps      []GuidedStep `json:"guided_steps,omitempty"`
	CurrentStepIndex int          `json:"current_step_index"`
	StepHistory      []Message    `json:"step_conversation_history,omitempty"`
}

// NewSession builds a fresh session with every task PENDING.
func NewSession(id string, overrides *ModelOverrides) *Session {
	tasks := make(map[TaskName]*TaskState, 5)
	for _, name := range AllTaskNames() {
		tasks[name] = &TaskState{Status: TaskPending}
	}
	return &Session{
		ID:                id,
		CreatedAt:         time.Now(),
		ModelOverrides:    overrides,
		ConversationState: StateInitial,
		Tasks:             tasks,
		Phase2State:       Phase2AwaitingMode,
	}
}

// Task returns the named task state, failing on unknown names.
func (s *Session) Task(name TaskName) (*TaskState, error) {
	task, ok := s.Tasks[name]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", name)
	}
	return task, nil
}

// AllTasksDone reports whether every task reached a terminal state.
func (s *Session) AllTasksDone() bool {
	for _, name := range AllTaskNames() {
		task, ok := s.Tasks[name]
		if !ok || !task.Done() {
			return false
		}
	}
	return true
}

// ReadyForTutoring reports whether Phase 2 can begin.
func (s *Session) ReadyForTutoring() bool {
	return s.QuestionText != "" && s.TutoringStyle != ""
}

// CurrentStep returns the step under the cursor, or nil when all steps are
// done.
func (s *Session) CurrentStep() *GuidedStep {
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.GuidedSteps) {
		return nil
	}
	return &s.GuidedSteps[s.CurrentStepIndex]
}

// MarkCurrentStepComplete flips the current step to completed and advances
// the cursor. Returns true when every step is now done. Calling it with the
// cursor already past the last step is a no-op that still reports done.
func (s *Session) MarkCurrentStepComplete() bool {
	if s.CurrentStepIndex >= len(s.GuidedSteps) {
		return true
	}
	s.GuidedSteps[s.CurrentStepIndex].Completed = true
	s.CurrentStepIndex++
	return s.CurrentStepIndex >= len(s.GuidedSteps)
}

// MarkAllStepsComplete completes every step and moves the cursor to the end.
// Used by the escape path.
func (s *Session) MarkAllStepsComplete() {
	for i := range s.GuidedSteps {
		s.GuidedSteps[i].Completed = true
	}
	s.CurrentStepIndex = len(s.GuidedSteps)
}

// Checklist renders the full step checklist, one line per step.
func (s *Session) Checklist() string {
	out := ""
	for i, step := range s.GuidedSteps {
		if i > 0 {
			out += "\n"
		}
		out += step.CheckboxLine()
	}
	return out
}

// Clone returns a deep copy. The store hands out clones so callers can never
// mutate shared state outside the store's lock.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	dup := *s

	dup.Tasks = make(map[TaskName]*TaskState, len(s.Tasks))
	for name, task := range s.Tasks {
		t := *task
		if task.StartedAt != nil {
			started := *task.StartedAt
			t.StartedAt = &started
		}
		if task.CompletedAt != nil {
			completed := *task.CompletedAt
			t.CompletedAt = &completed
		}
		dup.Tasks[name] = &t
	}

	dup.Messages = append([]Message(nil), s.Messages...)
	dup.ExamPoints = append([]string(nil), s.ExamPoints...)
	dup.KnowledgePoints = append([]string(nil), s.KnowledgePoints...)
	dup.CommonMistakes = append([]string(nil), s.CommonMistakes...)
	dup.LogicChainSteps = append([]string(nil), s.LogicChainSteps...)
	dup.GuidedSteps = append([]GuidedStep(nil), s.GuidedSteps...)
	dup.StepHistory = append([]Message(nil), s.StepHistory...)

	if s.ModelOverrides != nil {
		overrides := *s.ModelOverrides
		if s.ModelOverrides.Vision != nil {
			v := *s.ModelOverrides.Vision
			overrides.Vision = &v
		}
		if s.ModelOverrides.Quick != nil {
			q := *s.ModelOverrides.Quick
			overrides.Quick = &q
		}
		if s.ModelOverrides.Deep != nil {
			d := *s.ModelOverrides.Deep
			overrides.Deep = &d
		}
		dup.ModelOverrides = &overrides
	}

	return &dup
}
