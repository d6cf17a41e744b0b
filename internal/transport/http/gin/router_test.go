package httpgin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketvia/seatlease/internal/repository/memory"
	"github.com/ticketvia/seatlease/internal/service"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	svcs := service.NewServices(store, store, service.Deps{}, service.Config{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewRouter(svcs, nil, logger)
}

func doJSON(t *testing.T, r *gin.Engine, method, path, tenant, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAcquireRequiresTenantHeader(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/functions/1/locks", "",
		`{"seat_id":"A-1","holder":"sess-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcquireAndConflict(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/functions/1/locks", "acme",
		`{"seat_id":"A-1","holder":"sess-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp LeaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "A-1", resp.SeatID)
	assert.Len(t, resp.Locator, 8)

	w = doJSON(t, r, http.MethodPost, "/functions/1/locks", "acme",
		`{"seat_id":"A-1","holder":"sess-2"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAcquireValidatesBody(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/functions/1/locks", "acme",
		`{"holder":"sess-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/functions/abc/locks", "acme",
		`{"seat_id":"A-1","holder":"sess-1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReleaseAndReacquire(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/functions/1/locks", "acme",
		`{"seat_id":"A-1","holder":"sess-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/functions/1/locks/release", "acme",
		`{"seat_id":"A-1","holder":"sess-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/functions/1/locks", "acme",
		`{"seat_id":"A-1","holder":"sess-2"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRenewNotFound(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/functions/1/locks/renew", "acme",
		`{"seat_id":"A-1","holder":"sess-1"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListLocks(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/functions/1/locks", "acme",
		`{"seat_id":"A-1","holder":"sess-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/functions/1/locks", "acme", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp LeaseListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.NotEmpty(t, w.Header().Get("ETag"))
}

func TestPromoteFlow(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/functions/1/locks", "acme",
		`{"seat_id":"A-1","holder":"sess-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var l LeaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &l))

	w = doJSON(t, r, http.MethodPost, "/locks/promote", "acme",
		`{"locator":"`+l.Locator+`","seat_ids":["A-1"]}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var sale PromoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sale))
	assert.NotEmpty(t, sale.SaleID)
	assert.Equal(t, []string{"A-1"}, sale.SeatIDs)

	// promoting the emptied group again is a 404
	w = doJSON(t, r, http.MethodPost, "/locks/promote", "acme",
		`{"locator":"`+l.Locator+`","seat_ids":["A-1"]}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPolicyAdminEndpoints(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/admin/tenants/acme/lock-settings", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPut, "/admin/tenants/acme/lock-settings", "",
		`{"lease_duration_minutes":1000,"auto_cleanup_enabled":true,"notifications_enabled":true,"restoration_enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	var pol map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pol))
	// clamped to the administrative maximum
	assert.EqualValues(t, 240, pol["lease_duration_minutes"])
}

func TestLocksByLocator(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/functions/1/locks", "acme",
		`{"seat_id":"A-1","holder":"sess-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var l LeaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &l))

	w = doJSON(t, r, http.MethodGet, "/locks/by-locator/"+l.Locator, "acme", "")
	require.Equal(t, http.StatusOK, w.Code)

	var group LeaseListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &group))
	assert.Equal(t, 1, group.Total)

	w = doJSON(t, r, http.MethodPost, "/locks/release-by-locator", "acme",
		`{"locator":"`+l.Locator+`"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/locks/by-locator/"+l.Locator, "acme", "")
	require.Equal(t, http.StatusOK, w.Code)

	group = LeaseListResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &group))
	assert.Zero(t, group.Total)
}

func TestPolicyPartialUpdateKeepsOmittedFields(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPut, "/admin/tenants/acme/lock-settings", "",
		`{"lease_duration_minutes":30,"notifications_enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	// a later update that omits both must not reset them
	w = doJSON(t, r, http.MethodPut, "/admin/tenants/acme/lock-settings", "",
		`{"warning_threshold_minutes":5}`)
	require.Equal(t, http.StatusOK, w.Code)

	var pol map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pol))
	assert.EqualValues(t, 30, pol["lease_duration_minutes"])
	assert.EqualValues(t, 5, pol["warning_threshold_minutes"])
	assert.Equal(t, false, pol["notifications_enabled"])
	// toggles never sent stay on their defaults
	assert.Equal(t, true, pol["auto_cleanup_enabled"])
	assert.Equal(t, true, pol["restoration_enabled"])
}

func TestForceRelease(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/functions/1/locks", "acme",
		`{"seat_id":"A-1","holder":"sess-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/admin/functions/1/locks/A-1", "acme", "")
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodPost, "/functions/1/locks", "acme",
		`{"seat_id":"A-1","holder":"sess-2"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}
