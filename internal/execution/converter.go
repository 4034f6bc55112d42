package execution

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/convertcredits/backend/internal/models"
)

// ConvertRequest is what a converter needs to run one attempt.
type ConvertRequest struct {
	JobID   uuid.UUID         `json:"job_id"`
	JobType string            `json:"job_type"`
	Attempt int               `json:"attempt"`
	Payload models.JobPayload `json:"payload"`
}

// Converter runs a conversion and returns a reference to the stored result.
// progress may be called any number of times with values in 0..100.
type Converter interface {
	Convert(ctx context.Context, req ConvertRequest, progress func(int)) (resultRef string, err error)
}

// HTTPConverter calls the converter service at BaseURL + "/convert/{job_type}".
// The service answers with newline-delimited JSON messages:
//
//	{"progress": 40}
//	{"result_ref": "s3://bucket/key"}
//	{"error": "corrupt file", "stage": "PRE_PROCESS", "cause": "user"}
type HTTPConverter struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPConverter(baseURL string) *HTTPConverter {
	// No client timeout: the attempt context carries the policy timeout.
	return &HTTPConverter{BaseURL: strings.TrimRight(baseURL, "/"), HTTPClient: &http.Client{}}
}

type converterMessage struct {
	Progress  *int   `json:"progress"`
	ResultRef string `json:"result_ref"`
	Error     string `json:"error"`
	Stage     string `json:"stage"`
	Cause     string `json:"cause"`
}

func (c *HTTPConverter) Convert(ctx context.Context, req ConvertRequest, progress func(int)) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", UserError(models.StagePreProcess, fmt.Errorf("marshal payload: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/convert/"+req.JobType, bytes.NewReader(body))
	if err != nil {
		return "", SystemError(models.StagePreProcess, fmt.Errorf("create converter request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", SystemError(models.StagePreProcess, fmt.Errorf("call converter: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity ||
		resp.StatusCode == http.StatusUnsupportedMediaType || resp.StatusCode == http.StatusRequestEntityTooLarge:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", UserError(models.StagePreProcess, fmt.Errorf("converter rejected input (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", SystemError(models.StageDuringProcess, fmt.Errorf("converter returned status %d", resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg converterMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return "", SystemError(models.StageDuringProcess, fmt.Errorf("decode converter message: %w", err))
		}
		switch {
		case msg.Error != "":
			return "", messageError(msg)
		case msg.ResultRef != "":
			return msg.ResultRef, nil
		case msg.Progress != nil && progress != nil:
			progress(*msg.Progress)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", SystemError(models.StageDuringProcess, fmt.Errorf("read converter stream: %w", err))
	}
	return "", SystemError(models.StagePostProcess, errors.New("converter closed the stream without a result"))
}

func messageError(msg converterMessage) *ConversionError {
	stage := models.FailureStage(msg.Stage)
	switch stage {
	case models.StagePreProcess, models.StageDuringProcess, models.StagePostProcess:
	default:
		stage = models.StageDuringProcess
	}
	if models.FailureCause(msg.Cause) == models.CauseUser {
		return UserError(stage, errors.New(msg.Error))
	}
	return SystemError(stage, errors.New(msg.Error))
}
