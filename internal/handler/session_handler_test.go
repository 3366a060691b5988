package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"eduvideo-server/internal/healing"
	"eduvideo-server/internal/mocks"
	"eduvideo-server/internal/models"
	"eduvideo-server/internal/orchestrator"
	"eduvideo-server/internal/progress"
	"eduvideo-server/internal/taskrunner"
)

const testJWTSecret = "test-secret"

// stubEventCache - in-memory замена Redis-кэша последних событий.
type stubEventCache struct {
	events map[string]models.ProgressEvent
}

func newStubEventCache() *stubEventCache {
	return &stubEventCache{events: make(map[string]models.ProgressEvent)}
}

func (c *stubEventCache) Set(ctx context.Context, event models.ProgressEvent) error {
	c.events[event.SessionID] = event
	return nil
}

func (c *stubEventCache) Get(ctx context.Context, sessionID string) (*models.ProgressEvent, error) {
	event, ok := c.events[sessionID]
	if !ok {
		return nil, progress.ErrNoCachedEvent
	}
	return &event, nil
}

type handlerFixture struct {
	router    *gin.Engine
	repos     *mocks.MemRepos
	cache     *stubEventCache
	narrative *mocks.NarrativeAgent
	runner    *taskrunner.Runner
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &handlerFixture{
		repos:     mocks.NewMemRepos(),
		cache:     newStubEventCache(),
		narrative: new(mocks.NarrativeAgent),
		runner:    taskrunner.New(taskrunner.Config{MaxActiveRuns: 2}),
	}
	t.Cleanup(func() { f.runner.Shutdown(context.Background()) })

	var healer *healing.Engine
	orch := orchestrator.New(
		orchestrator.Config{VariantsPerSegment: 2, VideoFPS: 30, VideoResolution: "1080x1920"},
		orchestrator.Repos{
			Sessions:    f.repos.SessionRepo(),
			Segments:    f.repos.SegmentRepo(),
			Assets:      f.repos.AssetRepo(),
			Validations: f.repos.ValidationRepo(),
			Costs:       f.repos.CostRepo(),
			CompLog:     f.repos.CompLogRepo(),
		},
		f.narrative,
		new(mocks.VisualAgent),
		new(mocks.AudioAgent),
		new(mocks.VisionValidator),
		healer,
		new(mocks.Compositor),
		mocks.NewMemStore(),
		mocks.NewProgressRecorder(),
		f.runner,
		zap.NewNop(),
	)

	f.router = gin.New()
	NewSessionHandler(orch, f.cache, zap.NewNop()).
		RegisterRoutes(f.router, AuthMiddleware(testJWTSecret, zap.NewNop()))
	return f
}

func decodeBody(rec *httptest.ResponseRecorder, out any) error {
	return json.Unmarshal(rec.Body.Bytes(), out)
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (f *handlerFixture) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *handlerFixture) seedSession(t *testing.T, userID string) *models.Session {
	t.Helper()
	session := &models.Session{
		ID:           uuid.New(),
		UserID:       userID,
		Topic:        "Photosynthesis",
		Facts:        "Plants convert light into chemical energy",
		TargetSecs:   60,
		CurrentStage: models.StageScript,
		Status:       models.SessionStatusPending,
	}
	require.NoError(t, f.repos.SessionRepo().Create(context.Background(), session))
	return session
}

func TestSessionRoutes_RequireAuth(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/sessions/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+uuid.NewString(), "garbage-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSession_InvalidBody(t *testing.T) {
	f := newHandlerFixture(t)
	token := signToken(t, "teacher-1")

	rec := f.do(t, http.MethodPost, "/api/sessions", token, `{"topic":"Photosynthesis"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestCreateSession_Accepted(t *testing.T) {
	f := newHandlerFixture(t)
	token := signToken(t, "teacher-1")
	// Фоновый прогон завершается на первом же этапе, хендлеру это безразлично
	f.narrative.On("Run", mock.Anything, mock.Anything).
		Return(nil, models.StageCost{}, errors.New("llm offline"))

	rec := f.do(t, http.MethodPost, "/api/sessions", token,
		`{"topic":"Photosynthesis","facts":"Plants convert light","target_seconds":60}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp SessionResponse
	require.NoError(t, decodeBody(rec, &resp))
	assert.Equal(t, "teacher-1", resp.UserID)
	assert.Equal(t, "Photosynthesis", resp.Topic)
	assert.Equal(t, string(models.StageScript), resp.CurrentStage)
	assert.Equal(t, string(models.SessionStatusPending), resp.Status)

	id, err := uuid.Parse(resp.ID)
	require.NoError(t, err)
	_, err = f.repos.SessionRepo().GetByID(context.Background(), id)
	assert.NoError(t, err)
}

func TestGetSession_OwnershipAndNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	session := f.seedSession(t, "teacher-1")

	rec := f.do(t, http.MethodGet, "/api/sessions/not-a-uuid", signToken(t, "teacher-1"), "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+uuid.NewString(), signToken(t, "teacher-1"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Чужая сессия не раскрывается
	rec = f.do(t, http.MethodGet, "/api/sessions/"+session.ID.String(), signToken(t, "teacher-2"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+session.ID.String(), signToken(t, "teacher-1"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SessionResponse
	require.NoError(t, decodeBody(rec, &resp))
	assert.Equal(t, session.ID.String(), resp.ID)
	assert.Equal(t, 60, resp.TargetSeconds)
}

func TestCancelSession(t *testing.T) {
	f := newHandlerFixture(t)
	token := signToken(t, "teacher-1")
	session := f.seedSession(t, "teacher-1")

	rec := f.do(t, http.MethodPost, "/api/sessions/"+session.ID.String()+"/cancel", token, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Терминальная сессия не отменяется
	require.NoError(t, f.repos.SessionRepo().MarkCancelled(context.Background(), session.ID))
	rec = f.do(t, http.MethodPost, "/api/sessions/"+session.ID.String()+"/cancel", token, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetStatus_FallsBackToSessionSnapshot(t *testing.T) {
	f := newHandlerFixture(t)
	token := signToken(t, "teacher-1")
	session := f.seedSession(t, "teacher-1")

	rec := f.do(t, http.MethodGet, "/api/sessions/"+session.ID.String()+"/status", token, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(models.StageScript))
	assert.Contains(t, rec.Body.String(), string(models.SessionStatusPending))
}

func TestGetStatus_ReturnsCachedEvent(t *testing.T) {
	f := newHandlerFixture(t)
	token := signToken(t, "teacher-1")
	session := f.seedSession(t, "teacher-1")
	require.NoError(t, f.cache.Set(context.Background(), models.ProgressEvent{
		Type:      models.ProgressTypeUpdate,
		SessionID: session.ID.String(),
		Stage:     models.StageVisuals,
		Progress:  37.5,
		Message:   "generating visuals",
	}))

	rec := f.do(t, http.MethodGet, "/api/sessions/"+session.ID.String()+"/status", token, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var event models.ProgressEvent
	require.NoError(t, decodeBody(rec, &event))
	assert.Equal(t, models.StageVisuals, event.Stage)
	assert.InDelta(t, 37.5, event.Progress, 1e-9)
}

func TestGetCost(t *testing.T) {
	f := newHandlerFixture(t)
	token := signToken(t, "teacher-1")
	session := f.seedSession(t, "teacher-1")
	require.NoError(t, f.repos.CostRepo().Append(context.Background(), &models.CostEntry{
		SessionID: session.ID, Service: "visual", AmountUSD: 0.32,
	}))
	require.NoError(t, f.repos.CostRepo().Append(context.Background(), &models.CostEntry{
		SessionID: session.ID, Service: "audio", AmountUSD: 0.12,
	}))

	rec := f.do(t, http.MethodGet, "/api/sessions/"+session.ID.String()+"/cost", token, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var breakdown models.CostBreakdown
	require.NoError(t, decodeBody(rec, &breakdown))
	assert.InDelta(t, 0.44, breakdown.TotalUSD, 1e-9)
	assert.InDelta(t, 0.32, breakdown.ByService["visual"], 1e-9)
	assert.Len(t, breakdown.Entries, 2)
}

func TestGetCompositionLog(t *testing.T) {
	f := newHandlerFixture(t)
	token := signToken(t, "teacher-1")
	session := f.seedSession(t, "teacher-1")
	require.NoError(t, f.repos.CompLogRepo().AppendAction(context.Background(), &models.HealingAction{
		SessionID:     session.ID,
		SegmentID:     uuid.New(),
		Strategy:      models.StrategyTextSlide,
		Attempt:       1,
		BeforeAssetID: uuid.New(),
		Severity:      0.3,
	}))

	rec := f.do(t, http.MethodGet, "/api/sessions/"+session.ID.String()+"/composition-log", token, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var log models.CompositionLog
	require.NoError(t, decodeBody(rec, &log))
	require.Len(t, log.Actions, 1)
	assert.Equal(t, models.StrategyTextSlide, log.Actions[0].Strategy)
	assert.Nil(t, log.Summary)
}
