package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/cliagent/pkg/types"
)

// mockResponseWriter counts flushes.
type mockResponseWriter struct {
	*httptest.ResponseRecorder
	flushed int
}

func (m *mockResponseWriter) Flush() {
	m.flushed++
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{
		ResponseRecorder: httptest.NewRecorder(),
	}
}

type noFlushWriter struct{}

func (n *noFlushWriter) Header() http.Header       { return http.Header{} }
func (n *noFlushWriter) Write([]byte) (int, error) { return 0, nil }
func (n *noFlushWriter) WriteHeader(int)           {}

func TestNewSSEWriter_NoFlusher(t *testing.T) {
	_, err := newSSEWriter(&noFlushWriter{})
	assert.Error(t, err)

	_, err = newPartStream(&noFlushWriter{})
	assert.Error(t, err)
}

func TestSSEWriter_WriteEvent(t *testing.T) {
	w := newMockResponseWriter()
	sse, err := newSSEWriter(w)
	require.NoError(t, err)

	require.NoError(t, sse.writeEvent("test", map[string]string{"message": "hello"}))

	body := w.Body.String()
	assert.Contains(t, body, "event: test\n")
	assert.Contains(t, body, `data: {"message":"hello"}`+"\n\n")
	assert.NotZero(t, w.flushed)
}

func TestSSEWriter_WriteHeartbeat(t *testing.T) {
	w := newMockResponseWriter()
	sse, err := newSSEWriter(w)
	require.NoError(t, err)

	sse.writeHeartbeat()

	assert.Equal(t, ": heartbeat\n\n", w.Body.String())
	assert.NotZero(t, w.flushed)
}

func TestBelongsToSession(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		expected bool
	}{
		{"same session", `{"type":"session.status","data":{"sessionID":"s1","status":"completed"}}`, true},
		{"other session", `{"type":"session.status","data":{"sessionID":"s2"}}`, false},
		{"no session", `{"type":"sessions.changed","data":{"reason":"external"}}`, true},
		{"invalid", `{`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, belongsToSession([]byte(tt.payload), "s1"))
		})
	}
}

func TestPartStream_WritesLines(t *testing.T) {
	w := newMockResponseWriter()
	stream, err := newPartStream(w)
	require.NoError(t, err)

	stream.Markdown("hi")
	stream.Push(&types.ThinkingPart{Done: true})

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"type":"markdown","part":{"value":"hi"}}`, lines[0])
	assert.JSONEq(t, `{"type":"thinking","part":{"done":true}}`, lines[1])
	assert.Equal(t, 2, w.flushed)
}
