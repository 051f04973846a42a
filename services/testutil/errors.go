package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

type errorResponse struct {
	Error string `json:"error"`
}

func AssertErrorMessage(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int, expectedMessage string) {
	t.Helper()
	AssertHTTPStatus(t, resp, expectedStatus)

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Error != expectedMessage {
		t.Fatalf("expected error message %q, got %q", expectedMessage, errResp.Error)
	}
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d (body %s)", expectedStatus, resp.Code, resp.Body.String())
	}
}

// DecodeJSON unmarshals the response body into a generic map.
func DecodeJSON(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, resp.Body.String())
	}
	return body
}
