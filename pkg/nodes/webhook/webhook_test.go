package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukex/automata/pkg/actions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actx() actions.Context {
	return actions.Context{
		WorkflowID: "wf-1",
		RunID:      "run-1",
		NodeID:     "hook",
		Input:      map[string]any{"contact_id": "c-42", "email": "ada@example.com"},
	}
}

func TestNode_Invoke_RendersTemplates(t *testing.T) {
	var (
		gotPath   string
		gotBody   string
		gotHeader string
		gotRun    string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Contact")
		gotRun = r.Header.Get("X-Automata-Run")

		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	config, err := json.Marshal(Config{
		URL:     server.URL + "/leads/{{.input.contact_id}}",
		Method:  "put",
		Headers: map[string]string{"X-Contact": "{{.input.email}}"},
		Body:    `{"email":"{{.input.email}}"}`,
	})
	require.NoError(t, err)

	out, err := New(server.Client()).Invoke(t.Context(), config, actx())
	require.NoError(t, err)

	assert.Equal(t, "/leads/c-42", gotPath)
	assert.Equal(t, "ada@example.com", gotHeader)
	assert.Equal(t, "run-1", gotRun)
	assert.JSONEq(t, `{"email":"ada@example.com"}`, gotBody)

	assert.Equal(t, http.StatusCreated, out["status_code"])
	assert.Equal(t, map[string]any{"ok": true}, out["body"])
	assert.Equal(t, "application/json", out["headers"].(map[string]any)["Content-Type"])
}

func TestNode_Invoke_DefaultBodyIsInput(t *testing.T) {
	var got map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte("accepted"))
	}))
	defer server.Close()

	out, err := New(nil).Invoke(t.Context(), json.RawMessage(`{"url":"`+server.URL+`"}`), actx())
	require.NoError(t, err)

	assert.Equal(t, "c-42", got["contact_id"])
	assert.Equal(t, "accepted", out["body"])
}

func TestNode_Invoke_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(200 * time.Millisecond)
		}

		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	node := New(server.Client())

	_, err := node.Invoke(t.Context(), json.RawMessage(`{"url":"`+server.URL+`"}`), actx())
	require.ErrorIs(t, err, ErrHTTPStatus)

	_, err = node.Invoke(t.Context(), json.RawMessage(`{"url":"ftp://example.com"}`), actx())
	require.ErrorIs(t, err, ErrInvalidURL)

	_, err = node.Invoke(t.Context(), json.RawMessage(`{"url":"`+server.URL+`/slow","timeout":"20ms"}`), actx())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrHTTPStatus)

	_, err = node.Invoke(t.Context(), json.RawMessage(`{"url":"`+server.URL+`","timeout":"soon"}`), actx())
	require.Error(t, err)
}
