package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bizsync/registry-sync/pkg/scheduler"
	"github.com/bizsync/registry-sync/pkg/syncer"
	"github.com/bizsync/registry-sync/pkg/syncstate"
)

const testSecret = "s3cret"

func newTestServer(svc Service) http.Handler {
	r := chi.NewRouter()
	RegisterRoutes(r, svc, NewWebhookAuth(testSecret), zap.NewNop())
	return r
}

type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details"`
	Code    int    `json:"code"`
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var got errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	return got
}

func TestSyncHTTP_Success(t *testing.T) {
	svc := newMockService(t)
	svc.On("Sync", mock.Anything, "20240901").Return(&syncer.Result{
		Success:        true,
		RunID:          "run-1",
		TotalProcessed: 100,
		NewRecords:     40,
		UpdatedRecords: 60,
		Errors:         []string{"page 3 item 2: invalid item B-9: missing Name"},
		Duration:       1500 * time.Millisecond,
	}, nil)

	rec := do(t, newTestServer(svc), http.MethodPost, "/sync", `{"date":"20240901"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, 100, got.Summary.TotalProcessed)
	assert.Equal(t, 40, got.Summary.NewRecords)
	assert.Equal(t, 60, got.Summary.UpdatedRecords)
	assert.Len(t, got.Summary.Errors, 1)
	assert.EqualValues(t, 1500, got.Summary.DurationMs)
}

func TestSyncHTTP_EmptyBodyUsesDefaults(t *testing.T) {
	svc := newMockService(t)
	svc.On("Sync", mock.Anything, "").Return(&syncer.Result{Success: true, Errors: []string{}}, nil)

	rec := do(t, newTestServer(svc), http.MethodPost, "/sync", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncHTTP_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: "{invalid", want: "invalid JSON"},
		{name: "bad date", body: `{"date":"2024-09-01"}`, want: "invalid request: date must be YYYYMMDD and trigger manual or scheduled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService(t)
			rec := do(t, newTestServer(svc), http.MethodPost, "/sync", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			got := decodeError(t, rec)
			assert.False(t, got.Success)
			assert.Equal(t, tt.want, got.Error)
			assert.Equal(t, http.StatusBadRequest, got.Code)
		})
	}
}

func TestSyncHTTP_AlreadyRunning(t *testing.T) {
	svc := newMockService(t)
	svc.On("Sync", mock.Anything, "").Return(nil, syncer.ErrAlreadyRunning)

	rec := do(t, newTestServer(svc), http.MethodPost, "/sync", `{}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	got := decodeError(t, rec)
	assert.False(t, got.Success)
	assert.Equal(t, "sync already in progress", got.Error)
}

func TestSyncHTTP_FailureCarriesDetails(t *testing.T) {
	svc := newMockService(t)
	cause := &syncer.FatalError{Stage: "fetch", Err: errors.New("HTTP 401 for URL https://apis.data.go.kr: Unauthorized")}
	svc.On("Sync", mock.Anything, "").Return(&syncer.Result{}, cause)

	rec := do(t, newTestServer(svc), http.MethodPost, "/sync", ``)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	got := decodeError(t, rec)
	assert.False(t, got.Success)
	assert.Equal(t, "sync failed", got.Error)
	assert.Contains(t, got.Details, "HTTP 401")
}

func TestWebhookHTTP_Auth(t *testing.T) {
	signed := func(key string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"iat": time.Now().Unix(),
			"exp": time.Now().Add(time.Minute).Unix(),
		})
		s, err := tok.SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}

	tests := []struct {
		name    string
		body    string
		headers []string
		ok      bool
	}{
		{name: "body secret", body: `{"secret":"s3cret","trigger":"scheduled"}`, ok: true},
		{name: "header secret", body: `{}`, headers: []string{WebhookSecretHeader, testSecret}, ok: true},
		{name: "bearer token", body: ``, headers: []string{"Authorization", "Bearer " + signed(testSecret)}, ok: true},
		{name: "wrong body secret", body: `{"secret":"nope"}`},
		{name: "wrong token key", headers: []string{"Authorization", "Bearer " + signed("other")}},
		{name: "no credentials", body: `{"trigger":"manual"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newMockService(t)
			if tt.ok {
				svc.On("Sync", mock.Anything, "").Return(&syncer.Result{Success: true, Errors: []string{}}, nil)
			}

			rec := do(t, newTestServer(svc), http.MethodPost, "/webhook/sync", tt.body, tt.headers...)
			if tt.ok {
				require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
				return
			}
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			got := decodeError(t, rec)
			assert.Equal(t, "authentication failed", got.Error)
			svc.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
		})
	}
}

func TestWebhookHTTP_PassesDate(t *testing.T) {
	svc := newMockService(t)
	svc.On("Sync", mock.Anything, "20240102").Return(&syncer.Result{Success: true, Errors: []string{}}, nil)

	rec := do(t, newTestServer(svc), http.MethodPost, "/webhook/sync", `{"secret":"s3cret","date":"20240102","force":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusHTTP(t *testing.T) {
	svc := newMockService(t)
	next := time.Date(2024, 9, 2, 2, 0, 0, 0, time.UTC)
	svc.On("Status", mock.Anything).Return(&StatusResponse{
		SyncState: &syncstate.State{DataSource: "public-data-portal", Status: syncstate.StatusSuccess, SyncCount: 3},
		Scheduler: scheduler.Status{Running: true, Schedule: "0 2 * * *", NextRun: &next},
	}, nil)

	rec := do(t, newTestServer(svc), http.MethodGet, "/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "success", got["syncState"]["status"])
	assert.EqualValues(t, 3, got["syncState"]["syncCount"])
	assert.Equal(t, true, got["scheduler"]["running"])
	assert.Equal(t, "0 2 * * *", got["scheduler"]["schedule"])
}

func TestResetHTTP(t *testing.T) {
	t.Run("requires auth", func(t *testing.T) {
		svc := newMockService(t)
		rec := do(t, newTestServer(svc), http.MethodPost, "/sync/reset", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("conflict while running", func(t *testing.T) {
		svc := newMockService(t)
		svc.On("Reset", mock.Anything).Return(syncer.ErrAlreadyRunning)
		rec := do(t, newTestServer(svc), http.MethodPost, "/sync/reset", `{"secret":"s3cret"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("ok", func(t *testing.T) {
		svc := newMockService(t)
		svc.On("Reset", mock.Anything).Return(nil)
		rec := do(t, newTestServer(svc), http.MethodPost, "/sync/reset", ``, WebhookSecretHeader, testSecret)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"message":"sync state reset"}`, rec.Body.String())
	})
}
