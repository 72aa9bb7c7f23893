package v1

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duynhne/profile-sync/internal/core/domain"
	logicv1 "github.com/duynhne/profile-sync/internal/logic/v1"
)

type stubStore struct {
	mu      sync.Mutex
	records map[string]*domain.ProfileRecord
	patches int
}

func (s *stubStore) ReadProfile(_ context.Context, id string) (*domain.ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *stubStore) ReadProfileByEmail(_ context.Context, email string) (*domain.ProfileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Email == email {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, domain.ErrProfileNotFound
}

func (s *stubStore) PatchProfile(_ context.Context, id string, patch domain.Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrProfileNotFound
	}
	rec.Apply(patch)
	s.patches++
	return nil
}

type stubStorage struct{}

func (stubStorage) UploadAsset(context.Context, string, string) (*domain.UploadResult, error) {
	return &domain.UploadResult{Path: "avatars/9.jpg", URL: "https://cdn.example/raw/9.jpg"}, nil
}
func (stubStorage) DeleteAsset(context.Context, string, string) error { return nil }

type stubResolver struct{}

func (stubResolver) GetFreshAssetURL(context.Context, string) (string, bool) { return "", false }

type stubVerifier struct{}

func (stubVerifier) Verify(context.Context, string, time.Duration) bool { return false }

type stubCodes struct {
	mu       sync.Mutex
	requests int
}

func (c *stubCodes) RequestChangeCode(context.Context, string, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	return nil
}
func (c *stubCodes) ConfirmChangeCode(context.Context, string, string, string) error { return nil }

func (c *stubCodes) requestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests
}

func testRouter(t *testing.T) (*gin.Engine, *stubStore, *stubCodes) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := &stubStore{records: map[string]*domain.ProfileRecord{
		"9": {ID: "9", FullName: "Ana Reyes", Username: "anar", Email: "ana@example.com", Role: domain.RoleUser},
	}}
	codes := &stubCodes{}
	service := logicv1.NewProfileService(&logicv1.Deps{
		Store:    store,
		Storage:  stubStorage{},
		Resolver: stubResolver{},
		Verifier: stubVerifier{},
		Codes:    codes,
	}, logicv1.Tuning{
		DebounceDelay:      20 * time.Millisecond,
		ResolveRetryLimit:  1,
		ResolveRetryDelay:  5 * time.Millisecond,
		VerifyTimeoutShort: 20 * time.Millisecond,
		VerifyTimeoutLong:  20 * time.Millisecond,
		ChallengeAttempts:  3,
	})
	t.Cleanup(service.Close)
	handler := NewProfileHandler(service)

	r := gin.New()
	// Stand-in for the auth middleware.
	r.Use(func(c *gin.Context) {
		c.Set("user_id", "9")
		c.Set("email", "ana@example.com")
		c.Set("role", domain.RoleUser)
		c.Next()
	})
	r.GET("/api/v1/profile", handler.GetProfile)
	r.PATCH("/api/v1/profile/fields", handler.EditField)
	r.PUT("/api/v1/profile/settings", handler.SetSetting)
	r.POST("/api/v1/profile/username", handler.ChangeUsername)
	r.POST("/api/v1/profile/email", handler.ChangeEmail)
	r.POST("/api/v1/profile/challenge/confirm", handler.ConfirmChallenge)
	r.DELETE("/api/v1/profile/challenge/:field", handler.CancelChallenge)
	return r, store, codes
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetProfileReturnsViewState(t *testing.T) {
	r, _, _ := testRouter(t)

	w := doJSON(r, http.MethodGet, "/api/v1/profile", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"fullName":"Ana Reyes"`)
	assert.Contains(t, w.Body.String(), `"displayedAssetUrl"`)
}

func TestEditFieldSchedulesAutosave(t *testing.T) {
	r, store, _ := testRouter(t)

	w := doJSON(r, http.MethodPatch, "/api/v1/profile/fields", `{"field":"fullName","value":"Anaya"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.patches == 1
	}, time.Second, 5*time.Millisecond)
	store.mu.Lock()
	assert.Equal(t, "Anaya", store.records["9"].FullName)
	store.mu.Unlock()
}

func TestEditFieldRejectsSensitiveField(t *testing.T) {
	r, store, _ := testRouter(t)

	w := doJSON(r, http.MethodPatch, "/api/v1/profile/fields", `{"field":"email","value":"x@y.zz"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	time.Sleep(50 * time.Millisecond)
	store.mu.Lock()
	assert.Zero(t, store.patches)
	store.mu.Unlock()
}

func TestSetSettingWritesImmediately(t *testing.T) {
	r, store, _ := testRouter(t)

	w := doJSON(r, http.MethodPut, "/api/v1/profile/settings", `{"field":"darkMode","value":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	store.mu.Lock()
	assert.Equal(t, 1, store.patches)
	assert.True(t, store.records["9"].Settings.DarkMode)
	store.mu.Unlock()
}

func TestChangeUsernameValidationFailsFast(t *testing.T) {
	r, _, codes := testRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/profile/username", `{"newValue":"ab","credential":"hunter2"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, codes.requestCount(), "no network call on validation failure")
}

func TestChangeEmailMismatchFailsFast(t *testing.T) {
	r, _, codes := testRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/profile/email",
		`{"newValue":"a@b.co","confirmValue":"c@d.co","credential":"hunter2"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, codes.requestCount())
}

func TestUsernameChallengeRoundTrip(t *testing.T) {
	r, store, codes := testRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/profile/username", `{"newValue":"anaya_r","credential":"hunter2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, codes.requestCount())
	assert.Contains(t, w.Body.String(), `"state":"code_requested"`)

	w = doJSON(r, http.MethodPost, "/api/v1/profile/challenge/confirm", `{"field":"username","code":"123456"}`)
	require.Equal(t, http.StatusOK, w.Code)

	store.mu.Lock()
	assert.Equal(t, "anaya_r", store.records["9"].Username)
	store.mu.Unlock()
}

func TestConfirmWithoutChallengeIsConflict(t *testing.T) {
	r, _, _ := testRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/profile/challenge/confirm", `{"field":"email","code":"123456"}`)
	require.Equal(t, http.StatusConflict, w.Code)
}
