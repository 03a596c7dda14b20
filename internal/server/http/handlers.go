package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"biotutor/internal/config"
	tutorerrors "biotutor/internal/errors"
	"biotutor/internal/logging"
	"biotutor/internal/session"
	"biotutor/internal/sse"
	"biotutor/internal/workflow"
)

// maxImageBytes bounds one uploaded photo. Phone camera output sits well
// under this.
const maxImageBytes = 10 << 20

// Handler carries the shared collaborators of every endpoint.
type Handler struct {
	cfg       *config.Config
	store     *session.Store
	publisher *sse.Publisher
	tutor     *workflow.Tutor
	logger    logging.Logger
}

// NewHandler builds the endpoint handler set.
func NewHandler(cfg *config.Config, store *session.Store, publisher *sse.Publisher, tutor *workflow.Tutor) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		tutor:     tutor,
		logger:    logging.NewComponentLogger("Handler"),
	}
}

// renderError maps an error onto the HTTP status of its kind. The response
// carries the friendly message; the technical detail goes to the log.
func (h *Handler) renderError(c *gin.Context, err error) {
	kind := tutorerrors.KindOf(err)
	status := tutorerrors.HTTPStatus(kind)
	h.logger.Warn("HTTP %d (%s) for %s %s: %v", status, kind, c.Request.Method, c.Request.URL.Path, err)
	c.JSON(status, gin.H{
		"error": tutorerrors.FriendlyMessage(kind),
		"kind":  kind.String(),
	})
}

type createSessionRequest struct {
	ModelOverrides *session.ModelOverrides `json:"model_overrides"`
}

// CreateSession opens a new tutoring session and returns the greeting.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.renderError(c, tutorerrors.InvalidInput("invalid request body: "+err.Error()))
			return
		}
	}

	sess, err := h.store.Create(req.ModelOverrides)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if err := h.store.AddMessage(sess.ID, "assistant", workflow.GreetingMessage); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": sess.ID,
		"greeting":   workflow.GreetingMessage,
		"state":      sess.ConversationState,
	})
}

// UploadImage accepts the photographed question and launches the analysis
// pipeline. Returns 202 immediately; progress arrives on the event stream.
func (h *Handler) UploadImage(c *gin.Context) {
	sessionID := c.Param("id")

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		h.renderError(c, tutorerrors.InvalidInput("missing image file in form field \"image\""))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		h.renderError(c, tutorerrors.InvalidInput("failed to read image: "+err.Error()))
		return
	}
	if len(data) > maxImageBytes {
		h.renderError(c, tutorerrors.InvalidInput("image exceeds the 10MB limit"))
		return
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		h.renderError(c, tutorerrors.InvalidInput("uploaded file is not an image: "+mimeType))
		return
	}

	if err := h.tutor.ProcessImage(c.Request.Context(), sessionID, data, mimeType); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"session_id": sessionID,
		"status":     "processing",
	})
}

type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

// PostMessage advances the Phase-1 conversation by one turn.
func (h *Handler) PostMessage(c *gin.Context) {
	sessionID := c.Param("id")

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.renderError(c, tutorerrors.InvalidInput("invalid request body: "+err.Error()))
		return
	}

	reply, err := h.tutor.ProcessMessage(c.Request.Context(), sessionID, req.Message)
	if err != nil {
		h.renderError(c, err)
		return
	}

	sess, err := h.store.Get(sessionID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reply": reply,
		"state": sess.ConversationState,
	})
}

// SessionStatus returns the full session snapshot: both state machines, every
// task with its status and result fields, and the guided step progress.
func (h *Handler) SessionStatus(c *gin.Context) {
	sess, err := h.store.Get(c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	tasks := make(map[string]gin.H, len(sess.Tasks))
	for name, task := range sess.Tasks {
		entry := gin.H{"status": task.Status}
		if task.Error != "" {
			entry["error"] = task.Error
		}
		tasks[string(name)] = entry
	}

	resp := gin.H{
		"session_id":         sess.ID,
		"created_at":         sess.CreatedAt,
		"conversation_state": sess.ConversationState,
		"phase2_state":       sess.Phase2State,
		"tutoring_style":     sess.TutoringStyle,
		"tasks":              tasks,
		"has_question":       sess.QuestionText != "",
		"has_solution":       sess.Solution != "",
		"question_text":      sess.QuestionText,
		"exam_points":        sess.ExamPoints,
		"solution":           sess.Solution,
		"knowledge_points":   sess.KnowledgePoints,
		"common_mistakes":    sess.CommonMistakes,
		"logic_chain_steps":  sess.LogicChainSteps,
		"thinking_pattern":   sess.ThinkingPattern,
	}
	if len(sess.GuidedSteps) > 0 {
		resp["guided_steps"] = gin.H{
			"total":     len(sess.GuidedSteps),
			"current":   sess.CurrentStepIndex,
			"checklist": sess.Checklist(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteSession removes a session and every piece of state attached to it.
func (h *Handler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if !h.store.Delete(sessionID) {
		h.renderError(c, tutorerrors.NotFound("session", sessionID))
		return
	}
	h.publisher.ClearSession(sessionID)
	h.tutor.ReleaseSession(sessionID)
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// GeneralChat answers a question with no session attached.
func (h *Handler) GeneralChat(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.renderError(c, tutorerrors.InvalidInput("invalid request body: "+err.Error()))
		return
	}

	reply, err := h.tutor.GeneralChat(c.Request.Context(), req.Message)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// Health reports liveness plus the live session count.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": h.store.Count(),
	})
}
