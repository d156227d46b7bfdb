package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mcadmin/mc-admin/internal/auth"
	"github.com/mcadmin/mc-admin/internal/middleware"
	"github.com/mcadmin/mc-admin/internal/models"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/errs"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.ServerRecord{}, &models.Player{}, &models.PlayerSession{},
		&models.PlayerChatMessage{}, &models.PlayerAchievement{},
	))
	return db
}

func newAuthService(t *testing.T) *auth.Service {
	t.Helper()
	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	return auth.NewService("test-secret", "admin", hash, time.Hour)
}

type fakeConfigModule struct {
	raw    []byte
	setErr error
}

func (f *fakeConfigModule) Raw() ([]byte, error) { return f.raw, nil }

func (f *fakeConfigModule) SetRaw(raw []byte) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.raw = raw
	return nil
}

func newTestRouter(t *testing.T, db *gorm.DB, configModules map[string]ConfigModule) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	authService := newAuthService(t)
	router := gin.New()
	router.Use(middleware.ErrorHandler())

	authHandler := NewAuthHandler(authService)
	router.POST("/api/auth/login", authHandler.Login)

	authed := router.Group("/api", middleware.Auth(authService))

	players := NewPlayerHandler(repository.NewPlayerRepository(db))
	authed.GET("/players/online", players.Online)
	authed.GET("/players/:uuid", players.Profile)
	authed.GET("/players/:uuid/avatar", players.Avatar)

	config := NewConfigHandler(configModules)
	authed.GET("/config", config.List)
	authed.GET("/config/:module", config.Get)
	authed.PUT("/config/:module", config.Set)

	token, err := authService.Login("admin", "hunter2")
	require.NoError(t, err)
	return router, token
}

func doRequest(router *gin.Engine, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLoginIssuesToken(t *testing.T) {
	router, _ := newTestRouter(t, openTestDB(t), nil)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "hunter2"})
	w := doRequest(router, http.MethodPost, "/api/auth/login", "", body)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestLoginRejectsBadPassword(t *testing.T) {
	router, _ := newTestRouter(t, openTestDB(t), nil)

	body, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrong"})
	w := doRequest(router, http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareGuardsRoutes(t *testing.T) {
	router, token := newTestRouter(t, openTestDB(t), nil)

	w := doRequest(router, http.MethodGet, "/api/players/online", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/api/players/online", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/api/players/online", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPlayerProfileNotFoundMapsTo404(t *testing.T) {
	router, token := newTestRouter(t, openTestDB(t), nil)

	w := doRequest(router, http.MethodGet, "/api/players/ffffffffffffffffffffffffffffffff", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlayerProfileReturnsStoredData(t *testing.T) {
	db := openTestDB(t)
	players := repository.NewPlayerRepository(db)
	servers := repository.NewServerRepository(db)

	player, err := players.UpsertByUUID("069a79f444e94726a5befca90e38aaf5", "Notch")
	require.NoError(t, err)
	server, err := servers.EnsureActive("survival")
	require.NoError(t, err)

	joined := time.Now().Add(-time.Hour)
	session, err := players.OpenSession(player.ID, server.ID, joined)
	require.NoError(t, err)
	require.NoError(t, players.CloseSession(session, joined.Add(30*time.Minute)))

	router, token := newTestRouter(t, db, nil)
	w := doRequest(router, http.MethodGet, "/api/players/069a79f444e94726a5befca90e38aaf5", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Player struct {
			CurrentName string `json:"current_name"`
		} `json:"player"`
		Sessions             []json.RawMessage `json:"sessions"`
		TotalPlaytimeSeconds int64             `json:"totalPlaytimeSeconds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Notch", resp.Player.CurrentName)
	assert.Len(t, resp.Sessions, 1)
	assert.Equal(t, int64(1800), resp.TotalPlaytimeSeconds)
}

func TestPlayerAvatarMissingIs404(t *testing.T) {
	db := openTestDB(t)
	players := repository.NewPlayerRepository(db)
	_, err := players.UpsertByUUID("069a79f444e94726a5befca90e38aaf5", "Notch")
	require.NoError(t, err)

	router, token := newTestRouter(t, db, nil)
	w := doRequest(router, http.MethodGet, "/api/players/069a79f444e94726a5befca90e38aaf5/avatar", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfigGetAndSet(t *testing.T) {
	module := &fakeConfigModule{raw: []byte(`{"enabled":false}`)}
	router, token := newTestRouter(t, openTestDB(t), map[string]ConfigModule{"dns": module})

	w := doRequest(router, http.MethodGet, "/api/config/dns", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":false}`, w.Body.String())

	w = doRequest(router, http.MethodPut, "/api/config/dns", token, []byte(`{"enabled":true}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":true}`, string(module.raw))
}

func TestConfigSetValidationMapsTo400(t *testing.T) {
	module := &fakeConfigModule{raw: []byte(`{}`), setErr: errs.Validation("unknown field")}
	router, token := newTestRouter(t, openTestDB(t), map[string]ConfigModule{"dns": module})

	w := doRequest(router, http.MethodPut, "/api/config/dns", token, []byte(`{"bogus":1}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConfigUnknownModuleIs404(t *testing.T) {
	router, token := newTestRouter(t, openTestDB(t), map[string]ConfigModule{})

	w := doRequest(router, http.MethodGet, "/api/config/nope", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(router, http.MethodPut, "/api/config/nope", token, []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConfigSetRejectsInvalidJSON(t *testing.T) {
	module := &fakeConfigModule{raw: []byte(`{}`)}
	router, token := newTestRouter(t, openTestDB(t), map[string]ConfigModule{"dns": module})

	w := doRequest(router, http.MethodPut, "/api/config/dns", token, []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
