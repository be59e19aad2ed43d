package classifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAICompleteSendsStrictSchema(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"model":"gpt-4o-2024-08-06","choices":[{"message":{"content":"{\"fraccion\":\"0101.21.01\"}"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAI(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	comp, err := c.Complete(context.Background(), BuildRequest([]string{"texto"}, []string{"https://cdn.example/a.png"}))
	require.NoError(t, err)
	assert.Equal(t, `{"fraccion":"0101.21.01"}`, comp.Content)
	assert.Equal(t, "gpt-4o-2024-08-06", comp.Model)

	assert.Equal(t, "gpt-4o", body["model"])
	rf := body["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", rf["type"])
	js := rf["json_schema"].(map[string]any)
	assert.Equal(t, true, js["strict"])
	assert.Equal(t, SchemaName, js["name"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)["content"].([]any)
	require.Len(t, user, 3)
	img := user[2].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "https://cdn.example/a.png", img["image_url"].(map[string]any)["url"])
}

func TestOpenAIErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	reply := `{"error":{"message":"rate limited"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	defer srv.Close()
	c := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL})
	req := BuildRequest([]string{"x"}, nil)

	_, err := c.Complete(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai status 429")

	status, reply = http.StatusOK, `{"choices":[]}`
	_, err = c.Complete(context.Background(), req)
	assert.EqualError(t, err, "no choices in completion")

	_, err = NewOpenAI(Config{}).Complete(context.Background(), req)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
