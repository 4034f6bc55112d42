package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertcredits/backend/internal/models"
)

func convertReq() ConvertRequest {
	return ConvertRequest{
		JobID:   uuid.New(),
		JobType: "docx-to-pdf",
		Attempt: 1,
		Payload: models.JobPayload{
			Family:   models.FamilyDocument,
			Document: &models.DocumentOptions{Source: models.SourceFile{URL: "https://files/in.docx", Filename: "in.docx"}},
		},
	}
}

func TestHTTPConverter_StreamsProgressAndResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/convert/docx-to-pdf", r.URL.Path)
		var req ConvertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "in.docx", req.Payload.Source().Filename)
		fmt.Fprintln(w, `{"progress": 25}`)
		fmt.Fprintln(w, `{"progress": 75}`)
		fmt.Fprintln(w, `{"result_ref": "s3://out/in.pdf"}`)
	}))
	defer srv.Close()

	var seen []int
	ref, err := NewHTTPConverter(srv.URL+"/").Convert(context.Background(), convertReq(), func(p int) { seen = append(seen, p) })
	require.NoError(t, err)
	assert.Equal(t, "s3://out/in.pdf", ref)
	assert.Equal(t, []int{25, 75}, seen)
}

func TestHTTPConverter_ClassifiesFailures(t *testing.T) {
	cases := []struct {
		name  string
		code  int
		body  string
		stage models.FailureStage
		cause models.FailureCause
	}{
		{"rejected input", http.StatusUnprocessableEntity, "bad file", models.StagePreProcess, models.CauseUser},
		{"server error", http.StatusBadGateway, "", models.StageDuringProcess, models.CauseSystem},
		{"stream user error", http.StatusOK, `{"error":"password protected","stage":"DURING_PROCESS","cause":"user"}`, models.StageDuringProcess, models.CauseUser},
		{"stream system error", http.StatusOK, `{"error":"disk full","stage":"POST_PROCESS","cause":"system"}`, models.StagePostProcess, models.CauseSystem},
		{"stream without result", http.StatusOK, `{"progress": 10}`, models.StagePostProcess, models.CauseSystem},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.code)
				fmt.Fprintln(w, tc.body)
			}))
			defer srv.Close()

			_, err := NewHTTPConverter(srv.URL).Convert(context.Background(), convertReq(), nil)
			var ce *ConversionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.stage, ce.Stage)
			assert.Equal(t, tc.cause, ce.Cause)
		})
	}
}

func TestHTTPConverter_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPConverter(url).Convert(context.Background(), convertReq(), nil)
	var ce *ConversionError
	require.ErrorAs(t, err, &ce)
	assert.True(t, ce.Retryable())
}
