package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate-ai/toolgate/internal/permission"
	"github.com/toolgate-ai/toolgate/internal/shell"
)

func newTestServer(t *testing.T) (*Server, *permission.Arbiter, *shell.Manager) {
	t.Helper()
	arbiter := permission.NewArbiter(permission.NewContext(t.TempDir(), permission.ModeDefault))
	shells := shell.NewManager()
	t.Cleanup(shells.Shutdown)
	return New("127.0.0.1:0", arbiter, shells), arbiter, shells
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestModeRoundTrip(t *testing.T) {
	s, arbiter, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/mode", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "default")

	rec = doRequest(t, s, http.MethodPost, "/mode", `{"mode":"plan"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, permission.ModePlan, arbiter.Context().Mode())

	rec = doRequest(t, s, http.MethodPost, "/mode", `{"mode":"yolo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPermissionsEmpty(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/permissions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestRespondFlowThroughHTTP(t *testing.T) {
	s, arbiter, _ := newTestServer(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := arbiter.Evaluate(context.Background(), permission.Request{
			ToolName:        "bash",
			CallID:          "call_1",
			Command:         "touch x",
			NeedsPermission: true,
		})
		errCh <- err
	}()

	var id string
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := doRequest(t, s, http.MethodGet, "/permissions", "")
		var pending []pendingPermission
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
		if len(pending) == 1 {
			id = pending[0].ID
			assert.Equal(t, "bash", pending[0].ToolName)
			break
		}
		require.True(t, time.Now().Before(deadline), "request never suspended")
		time.Sleep(time.Millisecond)
	}

	rec := doRequest(t, s, http.MethodPost, "/permissions/"+id, `{"decision":"allow"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, <-errCh)
}

func TestRespondRejectsUnknownDecision(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/permissions/abc", `{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShellEndpoints(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix shell commands")
	}
	s, _, shells := newTestServer(t)

	id, err := shells.Spawn("echo web", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, shells.Wait(id))

	rec := doRequest(t, s, http.MethodGet, "/shells", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = doRequest(t, s, http.MethodGet, "/shells/"+id+"/output", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "web")

	rec = doRequest(t, s, http.MethodGet, "/shells/missing/output", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, s, http.MethodDelete, "/shells/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
