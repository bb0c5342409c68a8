package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cliagent/internal/runtime"
	"github.com/opencode-ai/cliagent/internal/session"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	writeJSON(w, http.StatusOK, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid input")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, ErrCodeInvalidRequest, result.Error.Code)
	assert.Equal(t, "Invalid input", result.Error.Message)
	assert.Nil(t, result.Error.Details)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	writeErrorWithDetails(w, http.StatusUnprocessableEntity, ErrCodeInvalidRequest, "Validation failed",
		map[string]any{"field": "prompt"})

	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "prompt", result.Error.Details["field"])
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("run: %w", session.ErrSessionDisposed), http.StatusGone, ErrCodeGone},
		{session.ErrServiceClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{fmt.Errorf("get session ..: %w", runtime.ErrInvalidSessionID), http.StatusBadRequest, ErrCodeInvalidRequest},
		{errors.New("disk full"), http.StatusInternalServerError, ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, tt.err)
			assert.Equal(t, tt.status, w.Code)

			var result ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
			assert.Equal(t, tt.code, result.Error.Code)
		})
	}
}
