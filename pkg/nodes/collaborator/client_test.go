package collaborator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/automata/pkg/log"
	"github.com/dukex/automata/pkg/nodes/ai"
	"github.com/dukex/automata/pkg/nodes/email"
	"github.com/dukex/automata/pkg/nodes/enrich"
	"github.com/dukex/automata/pkg/nodes/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var msg email.Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		_ = json.NewEncoder(w).Encode(map[string]string{"message_id": "m-" + msg.To})
	})
	mux.HandleFunc("POST /enrich", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"company":"Acme","employees":50}`))
	})
	mux.HandleFunc("POST /score", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"score":64.5,"grade":"B"}`))
	})
	mux.HandleFunc("POST /infer", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestClient(t *testing.T) {
	server := newServer(t)

	client, err := New(server.URL+"/", log.Discard(), WithToken("secret"), WithHTTPClient(server.Client()))
	require.NoError(t, err)

	id, err := client.Send(t.Context(), email.Message{To: "ada@example.com", Subject: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "m-ada@example.com", id)

	attrs, err := client.Enrich(t.Context(), enrich.Request{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Acme", attrs["company"])

	result, err := client.Score(t.Context(), score.Request{ContactID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, score.Result{Score: 64.5, Grade: "B"}, result)

	_, err = client.Infer(t.Context(), ai.Request{Prompt: "hello"})
	require.ErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestNew_EmptyEndpoint(t *testing.T) {
	_, err := New("", log.Discard())
	require.ErrorIs(t, err, ErrEmptyEndpoint)
}

func TestLogSender(t *testing.T) {
	id, err := NewLogSender(log.Discard()).Send(t.Context(), email.Message{
		To:       "ada@example.com",
		Metadata: map[string]string{"run_id": "r1", "node_id": "n1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "log-r1-n1", id)
}
