package jobs_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertcredits/backend/internal/jobs"
	"github.com/convertcredits/backend/internal/middleware"
	"github.com/convertcredits/backend/internal/models"
)

func serve(f *fixture, method, path, body string) *httptest.ResponseRecorder {
	h := jobs.NewHandler(f.svc, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", h.Create)
	mux.HandleFunc("GET /v1/jobs/{id}", h.Get)
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", h.Cancel)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(middleware.WithPrincipal(req.Context(), middleware.Principal{AccountID: f.account, Role: models.RoleUser}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreate(t *testing.T) {
	f := newFixture(t, 5)

	rec := serve(f, http.MethodPost, "/v1/jobs", `{"job_type": "video-to-mp4", "payload": `+videoPayload+`}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created jobs.CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "queued", created.Status)
	assert.Equal(t, int64(2), created.NewBalance)

	rec = serve(f, http.MethodPost, "/v1/jobs", `{"job_type": "video-to-mp4", "payload": `+videoPayload+`}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INSUFFICIENT_CREDITS", body["code"])
	assert.EqualValues(t, 3, body["required"])
	assert.EqualValues(t, 2, body["available"])

	rec = serve(f, http.MethodGet, "/v1/jobs/"+created.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got jobs.JobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "video-to-mp4", got.JobType)
	assert.Equal(t, int64(3), got.CostCharged)
}

func TestHandlerCreate_ValidationErrors(t *testing.T) {
	f := newFixture(t, 5)
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"missing job type", `{"payload": {}}`, http.StatusBadRequest},
		{"unknown job type", `{"job_type": "fax-to-telex", "payload": ` + videoPayload + `}`, http.StatusBadRequest},
		{"bad payload", `{"job_type": "video-to-mp4", "payload": {"source": {}}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(f, http.MethodPost, "/v1/jobs", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, int64(5), f.ledger.Balance(f.account))
}

func TestHandlerCancel(t *testing.T) {
	f := newFixture(t, 5)
	rec := serve(f, http.MethodPost, "/v1/jobs", `{"job_type": "video-to-mp4", "payload": `+videoPayload+`}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created jobs.CreateJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = serve(f, http.MethodPost, "/v1/jobs/"+created.JobID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cancelled jobs.CancelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	assert.Equal(t, "failed", cancelled.Job.Status)
	require.NotNil(t, cancelled.NewBalance)
	assert.Equal(t, int64(5), *cancelled.NewBalance)

	rec = serve(f, http.MethodPost, "/v1/jobs/"+created.JobID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(f, http.MethodGet, "/v1/jobs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
