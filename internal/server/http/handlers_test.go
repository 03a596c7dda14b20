package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biotutor/internal/config"
	tutorerrors "biotutor/internal/errors"
	"biotutor/internal/llm"
	"biotutor/internal/session"
	"biotutor/internal/sse"
	"biotutor/internal/workflow"
)

// pngHeader is a minimal valid PNG signature for content-type sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func testConfig() *config.Config {
	mock := config.ModelConfig{Provider: "mock", Model: "mock-model", Temperature: 0.3, MaxTokens: 1024, Timeout: 10}
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8000, CORSOrigins: []string{"*"}},
		Models: config.ModelsConfig{Vision: mock, Quick: mock, Deep: mock},
		Tutoring: config.TutoringConfig{
			Persona:            "测试老师",
			EscapePhrases:      config.DefaultEscapePhrases(),
			FeedbackPhrases:    config.DefaultFeedbackPhrases(),
			MaxRepliesPerStep:  3,
			MinSteps:           3,
			MaxSteps:           7,
			HistoryWindow:      6,
			HistoryTruncateLen: 300,
		},
		Events:   config.EventsConfig{PendingBufferCap: 100, HeartbeatInterval: 30},
		Sessions: config.SessionsConfig{MaxAge: 2 * time.Hour, CleanupInterval: 10 * time.Minute},
	}
}

type testEnv struct {
	router    *gin.Engine
	store     *session.Store
	publisher *sse.Publisher
}

func newTestEnv(t *testing.T, mock llm.Client) *testEnv {
	t.Helper()

	cfg := testConfig()
	registry := llm.NewRegistry()
	registry.Register("mock", func(config.ModelConfig) (llm.Client, error) {
		return mock, nil
	})
	resolver := llm.NewResolver(registry, cfg.Models)

	store := session.NewStore(nil)
	publisher := sse.NewPublisher(sse.WithMetrics(sse.MustNewMetrics(prometheus.NewRegistry())))
	tutor := workflow.NewTutor(cfg, store, publisher, resolver,
		workflow.WithRetryConfig(tutorerrors.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		workflow.WithTutorMetrics(workflow.MustNewMetrics(prometheus.NewRegistry())),
	)

	return &testEnv{
		router:    NewRouter(cfg, store, publisher, tutor),
		store:     store,
		publisher: publisher,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateSessionReturnsGreeting(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))

	w := env.do(t, http.MethodPost, "/api/session", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	body := decodeBody(t, w)
	sessionID, _ := body["session_id"].(string)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, workflow.GreetingMessage, body["greeting"])
	assert.Equal(t, "initial", body["state"])

	sess, err := env.store.Get(sessionID)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 1)
	assert.Equal(t, "assistant", sess.Messages[0].Role)
}

func TestCreateSessionWithModelOverrides(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))

	w := env.do(t, http.MethodPost, "/api/session", map[string]any{
		"model_overrides": map[string]any{
			"deep": map[string]any{"model": "my-model", "api_key": "my-key"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	body := decodeBody(t, w)
	sess, err := env.store.Get(body["session_id"].(string))
	require.NoError(t, err)
	require.NotNil(t, sess.ModelOverrides)
	require.NotNil(t, sess.ModelOverrides.Deep)
	assert.Equal(t, "my-model", sess.ModelOverrides.Deep.Model)
}

func TestSessionStatusUnknownSession(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))

	w := env.do(t, http.MethodGet, "/api/session/missing/status", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "not_found", body["kind"])
}

func TestPostMessageAdvancesConversation(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))
	sess, err := env.store.Create(nil)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/session/"+sess.ID+"/message", map[string]any{"message": "你好"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.NotEmpty(t, body["reply"])
	assert.Equal(t, "awaiting_thinking", body["state"])
}

func TestPostMessageValidation(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))
	sess, err := env.store.Create(nil)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/session/"+sess.ID+"/message", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadImageAcceptsPNG(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("提取出的题目"))
	sess, err := env.store.Create(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("image", "question.png")
	require.NoError(t, err)
	_, err = part.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/session/"+sess.ID+"/upload", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "processing", body["status"])
}

func TestUploadImageRejectsNonImage(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))
	sess, err := env.store.Create(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("image", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("plain text, not an image"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/session/"+sess.ID+"/upload", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadImageMissingFormField(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))
	sess, err := env.store.Create(nil)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/session/"+sess.ID+"/upload", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteSession(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))
	sess, err := env.store.Create(nil)
	require.NoError(t, err)
	env.publisher.Publish(sess.ID, "buffered", nil)

	w := env.do(t, http.MethodDelete, "/api/session/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, env.publisher.PendingCount(sess.ID))

	w = env.do(t, http.MethodDelete, "/api/session/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGeneralChat(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("细胞膜主要由磷脂和蛋白质组成。"))

	w := env.do(t, http.MethodPost, "/api/chat", map[string]any{"message": "细胞膜的成分是什么？"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "细胞膜主要由磷脂和蛋白质组成。", body["reply"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))

	w := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
}

func TestSessionStatusSnapshot(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))
	sess, err := env.store.Create(nil)
	require.NoError(t, err)

	question := "题目"
	require.NoError(t, env.store.Update(sess.ID, session.SessionUpdate{
		QuestionText: &question,
		ExamPoints:   []string{"考点"},
	}))
	require.NoError(t, env.store.UpdateTaskStatus(sess.ID, session.TaskVisionExtraction, session.TaskRunning, "", ""))
	require.NoError(t, env.store.UpdateTaskStatus(sess.ID, session.TaskVisionExtraction, session.TaskCompleted, "raw", ""))

	w := env.do(t, http.MethodGet, "/api/session/"+sess.ID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "题目", body["question_text"])
	assert.Equal(t, true, body["has_question"])
	assert.Equal(t, false, body["has_solution"])
	tasks := body["tasks"].(map[string]any)
	vision := tasks["vision_extraction"].(map[string]any)
	assert.Equal(t, "completed", vision["status"])
}

func TestTutorStreamEndsWithDone(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))
	sess, err := env.store.Create(nil)
	require.NoError(t, err)

	question := "题目"
	solution := "解答"
	style := session.StyleDirect
	state := session.StateTutoring
	require.NoError(t, env.store.Update(sess.ID, session.SessionUpdate{
		QuestionText:      &question,
		Solution:          &solution,
		TutoringStyle:     &style,
		ConversationState: &state,
	}))

	w := env.do(t, http.MethodPost, "/api/session/"+sess.ID+"/tutor", map[string]any{"message": "开始"})
	require.Equal(t, http.StatusOK, w.Code)

	out := w.Body.String()
	assert.Contains(t, out, "event: connected")
	assert.Contains(t, out, "event: message")
	assert.Contains(t, out, "event: tutoring_complete")
	assert.Contains(t, out, "event: done")
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
}

func TestEventStreamDeliversBufferedEvents(t *testing.T) {
	env := newTestEnv(t, llm.NewMockClient("ok"))
	sess, err := env.store.Create(nil)
	require.NoError(t, err)

	env.publisher.Publish(sess.ID, "question_extracted", map[string]any{"question_text": "题目"})

	server := httptest.NewServer(env.router)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/session/"+sess.ID+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	var sawConnected, sawEvent bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: connected") {
			sawConnected = true
		}
		if strings.HasPrefix(line, "event: question_extracted") {
			sawEvent = true
			break
		}
	}
	assert.True(t, sawConnected)
	assert.True(t, sawEvent)
}
