package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signal_bot/internal/modules/health/service"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestReadiness(t *testing.T) {
	state := service.NewState(service.Probes{})
	mux := NewMux(state)

	assert.Equal(t, http.StatusOK, get(t, mux, "/livez").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, mux, "/readyz").Code)

	state.SetReady(true)
	assert.Equal(t, http.StatusOK, get(t, mux, "/readyz").Code)
}

func TestNotReadyUntilAccountSynced(t *testing.T) {
	var refreshed time.Time
	state := service.NewState(service.Probes{LastRefresh: func() time.Time { return refreshed }})
	state.SetReady(true)
	mux := NewMux(state)

	rec := get(t, mux, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "account balance not synced")

	refreshed = time.Now()
	assert.Equal(t, http.StatusOK, get(t, mux, "/readyz").Code)
}

func TestHealthzReportsProbes(t *testing.T) {
	refreshed := time.Unix(1700000000, 0)
	state := service.NewState(service.Probes{
		OpenPositions:   func() int { return 2 },
		LastRefresh:     func() time.Time { return refreshed },
		StreamConnected: func() bool { return true },
	})
	state.SetReady(true)

	rec := get(t, NewMux(state), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Ready           bool  `json:"ready"`
		OpenPositions   int   `json:"openPositions"`
		StreamConnected bool  `json:"streamConnected"`
		LastRefresh     int64 `json:"lastAccountRefreshUnix"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.Equal(t, 2, body.OpenPositions)
	assert.True(t, body.StreamConnected)
	assert.Equal(t, int64(1700000000), body.LastRefresh)
}

func TestHealthzWithoutProbes(t *testing.T) {
	rec := get(t, NewMux(service.NewState(service.Probes{})), "/healthz")

	var body map[string]any
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["streamConnected"])
	assert.EqualValues(t, 0, body["lastAccountRefreshUnix"])
}
