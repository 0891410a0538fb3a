package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func TestBuildChatBodyDefaults(t *testing.T) {
	body := decodeBody(t, buildChatBodyBytes("deepseek-chat", ChatPayload{
		System: "你是交易助手",
		User:   "给出决策",
	}))

	assert.Equal(t, "deepseek-chat", body["model"])
	assert.InDelta(t, 0.7, body["temperature"].(float64), 1e-9)
	assert.InDelta(t, 2000, body["max_tokens"].(float64), 1e-9)
	_, hasFormat := body["response_format"]
	assert.False(t, hasFormat)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	sys := msgs[0].(map[string]any)
	assert.Equal(t, "system", sys["role"])
	assert.Equal(t, "你是交易助手", sys["content"])
	usr := msgs[1].(map[string]any)
	assert.Equal(t, "user", usr["role"])
	assert.Equal(t, "给出决策", usr["content"])
}

func TestBuildChatBodyExplicitParams(t *testing.T) {
	body := decodeBody(t, buildChatBodyBytes("gpt-4o-mini", ChatPayload{
		User:        "hi",
		ExpectJSON:  true,
		Temperature: 0.2,
		MaxTokens:   800,
	}))

	assert.InDelta(t, 0.2, body["temperature"].(float64), 1e-9)
	assert.InDelta(t, 800, body["max_tokens"].(float64), 1e-9)
	format := body["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1, "无 system 时只有 user 消息")
}

func TestBuildChatBodyVisionContent(t *testing.T) {
	body := decodeBody(t, buildChatBodyBytes("gpt-4o", ChatPayload{
		User: "看图判断",
		Images: []ImagePayload{
			{DataURI: "data:image/png;base64,AAA", Description: "ETH 5m 走势图"},
			{DataURI: "   "},
		},
	}))

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 3, "空白图片应被跳过")

	first := content[0].(map[string]any)
	assert.Equal(t, "text", first["type"])
	assert.Equal(t, "看图判断", first["text"])

	img := content[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "data:image/png;base64,AAA", img["image_url"].(map[string]any)["url"])

	desc := content[2].(map[string]any)
	assert.Equal(t, "ETH 5m 走势图", desc["text"])
}

func TestChatCompletionsURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"", "https://api.deepseek.com/chat/completions"},
		{"https://api.deepseek.com", "https://api.deepseek.com/chat/completions"},
		{"https://api.deepseek.com/", "https://api.deepseek.com/chat/completions"},
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://host/v1/chat/completions", "https://host/v1/chat/completions"},
	}
	for _, tc := range cases {
		c := &OpenAIChatClient{BaseURL: tc.base}
		assert.Equal(t, tc.want, c.chatCompletionsURL(), "base=%q", tc.base)
	}
}

func TestCallHappyPath(t *testing.T) {
	var gotAuth, gotType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"{\"action\":\"hold\"}"}}]}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, APIKey: "sk-test", Model: "deepseek-chat", Timeout: 5 * time.Second}
	out, err := c.Call(context.Background(), ChatPayload{User: "决策", ExpectJSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"action":"hold"}`, out)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "deepseek-chat", gotBody["model"])
	assert.Equal(t, "json_object", gotBody["response_format"].(map[string]any)["type"])
}

func TestCallRetriesOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, Model: "deepseek-chat", MaxRetries: 1, Timeout: 5 * time.Second}
	out, err := c.Call(context.Background(), ChatPayload{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, calls)
}

func TestCallNonRetryableStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, Model: "deepseek-chat", MaxRetries: 3, Timeout: 5 * time.Second}
	_, err := c.Call(context.Background(), ChatPayload{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=401")
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Equal(t, 1, calls, "4xx 不应重试")
}

func TestCallEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := &OpenAIChatClient{BaseURL: srv.URL, Model: "deepseek-chat", Timeout: 5 * time.Second}
	_, err := c.Call(context.Background(), ChatPayload{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty choices")
}

func TestShouldRetry(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, shouldRetry(code), "%d", code)
	}
	for _, code := range []int{200, 400, 401, 403, 404} {
		assert.False(t, shouldRetry(code), "%d", code)
	}
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3", 0))
	assert.Equal(t, 800*time.Millisecond, parseRetryAfter("", 0))
	assert.Equal(t, 1600*time.Millisecond, parseRetryAfter("abc", 1))
	assert.Equal(t, 8*time.Second, parseRetryAfter("", 10), "退避封顶 8s")
}

func TestHeadersForLogMasksSecrets(t *testing.T) {
	c := &OpenAIChatClient{APIKey: "sk-verysecret1234"}
	logged := c.headersForLog()
	assert.Equal(t, "****1234", logged["Authorization"])
	assert.Equal(t, "application/json", logged["Content-Type"])
}

type staticChat struct {
	reply string
	calls int
}

func (s *staticChat) Call(ctx context.Context, payload ChatPayload) (string, error) {
	s.calls++
	return s.reply, nil
}

func TestModelProviderAccessors(t *testing.T) {
	inner := &staticChat{reply: "done"}
	p := NewOpenAIModelProvider("deepseek", true, false, true, inner)

	assert.Equal(t, "deepseek", p.ID())
	assert.True(t, p.Enabled())
	assert.False(t, p.SupportsVision())
	assert.True(t, p.ExpectsJSON())

	out, err := p.Call(context.Background(), ChatPayload{User: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 1, inner.calls)
}
