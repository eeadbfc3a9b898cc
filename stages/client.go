package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"DubbingPlatform-server/config"
	"DubbingPlatform-server/models"
)

// jsonClient posts one JSON request to a stage service and decodes the reply.
// It keeps no state between calls.
type jsonClient struct {
	stage   string
	baseURL string
	timeout time.Duration
	http    *http.Client
}

func newJSONClient(stage string, ep config.Endpoint, hc *http.Client) jsonClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return jsonClient{
		stage:   stage,
		baseURL: strings.TrimRight(ep.URL, "/"),
		timeout: ep.TimeoutDuration(),
		http:    hc,
	}
}

func (c jsonClient) post(ctx context.Context, path string, in, out interface{}) error {
	if c.baseURL == "" {
		return c.fail("endpoint not configured", nil)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(in)
	if err != nil {
		return c.fail("encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return c.fail("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return c.fail(fmt.Sprintf("timed out after %s", c.timeout), err)
		}
		return c.fail("request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return c.fail("read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.fail(fmt.Sprintf("status %d: %s", resp.StatusCode, errorDetail(payload)), nil)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return c.fail("decode response", err)
	}
	return nil
}

func (c jsonClient) fail(message string, err error) error {
	if err != nil {
		message = message + ": " + err.Error()
	}
	return &models.AIServiceError{Stage: c.stage, Message: message, Err: err}
}

// errorDetail pulls a readable message out of an error body.
func errorDetail(body []byte) string {
	var envelope struct {
		Detail  interface{} `json:"detail"`
		Error   string      `json:"error"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Error != "":
			return envelope.Error
		case envelope.Message != "":
			return envelope.Message
		case envelope.Detail != nil:
			return fmt.Sprint(envelope.Detail)
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
