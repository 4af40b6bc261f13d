package rbac

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psychon7/vibe-kanban/pkg/auth"
	"github.com/psychon7/vibe-kanban/pkg/observability"
)

func newCatalogRouter(t *testing.T, allowManagement bool) (*mux.Router, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	router := mux.NewRouter()
	NewHandlers(NewStore(db), logger, allowManagement).RegisterRoutes(router)
	return router, mock
}

func catalogRequest(router *mux.Router, method, path, body string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authed {
		req = req.WithContext(auth.WithPrincipal(req.Context(),
			&auth.Principal{ID: "user-1", Email: "u1@example.com"}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCatalogHandlers(t *testing.T) {
	t.Run("reads require authentication", func(t *testing.T) {
		router, _ := newCatalogRouter(t, false)
		rec := catalogRequest(router, http.MethodGet, "/roles", "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("list roles", func(t *testing.T) {
		router, mock := newCatalogRouter(t, false)
		mock.ExpectQuery(`SELECT id, name, description, is_system`).
			WillReturnRows(roleRow(RoleOwnerID, RoleOwner, true))

		rec := catalogRequest(router, http.MethodGet, "/roles", "", true)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), RoleOwner)
	})

	t.Run("mutations are unmounted when management is disabled", func(t *testing.T) {
		router, _ := newCatalogRouter(t, false)
		rec := catalogRequest(router, http.MethodPost, "/roles", `{"name":"Custom"}`, true)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("deleting a system role yields 403", func(t *testing.T) {
		router, mock := newCatalogRouter(t, true)
		mock.ExpectQuery(`SELECT id, name, description, is_system`).
			WithArgs(RoleOwnerID).
			WillReturnRows(roleRow(RoleOwnerID, RoleOwner, true))

		rec := catalogRequest(router, http.MethodDelete, "/roles/"+RoleOwnerID.String(), "", true)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown role yields 404", func(t *testing.T) {
		router, mock := newCatalogRouter(t, false)
		mock.ExpectQuery(`SELECT id, name, description, is_system`).
			WillReturnRows(sqlmock.NewRows(roleColumns))

		rec := catalogRequest(router, http.MethodGet, "/roles/"+RoleMemberID.String(), "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed role ID yields 400", func(t *testing.T) {
		router, _ := newCatalogRouter(t, false)
		rec := catalogRequest(router, http.MethodGet, "/roles/banana", "", true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
