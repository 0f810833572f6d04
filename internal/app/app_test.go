package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"rbw-core/internal/auth"
	"rbw-core/internal/handlers"
)

const testConfig = `{
	"logLevel": "error",
	"store": {"backend": "memory"},
	"auth": {"staffSecret": "staff-secret"},
	"queue": {"requireOnline": true}
}`

func TestModuleStartsOnMemoryBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.apptest.json"), []byte(testConfig), 0o644))
	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("RBW_ENV", "apptest")

	var (
		router *handlers.Router
		jwt    *auth.JWTService
	)
	app := fxtest.New(t, Module, fx.NopLogger, fx.Populate(&router, &jwt))
	app.RequireStart()
	defer app.RequireStop()

	srv := router.Handler(handlers.RouterConfig{FrontendURL: "http://localhost", BridgePath: "/rbw/websocket"}, zerolog.Nop())

	get := func(path, token string) int {
		r := httptest.NewRequest("GET", path, nil)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, get("/health", ""))
	assert.Equal(t, http.StatusOK, get("/api/queues", ""))
	assert.Equal(t, http.StatusOK, get("/metrics", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/api/staff/queues", ""))

	tok, err := jwt.GenerateStaffToken("admin-1", []string{auth.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get("/api/staff/queues", tok))
}
