package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"RiskScanner/internal/config"
	"RiskScanner/internal/domain"
)

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		wantLabel string
		wantConf  float64
		wantErr   bool
	}{
		{name: "plain", raw: `{"label":"High-Legal","confidence":0.83,"reason":"concurso"}`, wantLabel: "High-Legal", wantConf: 0.83},
		{name: "fenced", raw: "```json\n{\"label\":\"Medium-Tax\",\"confidence\":0.7}\n```", wantLabel: "Medium-Tax", wantConf: 0.7},
		{name: "clamped", raw: `{"label":"Low-Other","confidence":1.4}`, wantLabel: "Low-Other", wantConf: 1},
		{name: "outside taxonomy", raw: `{"label":"No-Legal","confidence":0.9}`, wantLabel: "Unknown", wantConf: 0},
		{name: "garbage", raw: "red", wantLabel: "Unknown", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, conf, err := parseVerdict(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantLabel, label.String())
			assert.InDelta(t, tt.wantConf, conf, 1e-9)
		})
	}
}

func TestTransientStatus(t *testing.T) {
	t.Parallel()

	base := errors.New("upstream")
	assert.True(t, domain.IsTransient(transientStatus(base, http.StatusTooManyRequests)))
	assert.True(t, domain.IsTransient(transientStatus(base, http.StatusBadGateway)))
	assert.True(t, domain.IsTransient(transientStatus(fmt.Errorf("call: %w", context.DeadlineExceeded), 0)))
	assert.False(t, domain.IsTransient(transientStatus(base, http.StatusBadRequest)))
	assert.False(t, domain.IsTransient(transientStatus(base, 0)))
}

func TestGeminiErrorMapsStatus(t *testing.T) {
	t.Parallel()

	err := geminiError("generate", genai.APIError{Code: http.StatusServiceUnavailable, Message: "overloaded"})
	assert.True(t, domain.IsTransient(err))
	assert.Contains(t, err.Error(), "gemini generate")

	err = geminiError("generate", genai.APIError{Code: http.StatusForbidden, Message: "bad key"})
	assert.False(t, domain.IsTransient(err))
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestGeminiErrorTransportFailuresAreTransient(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"net error": &url.Error{Op: "Post", URL: "https://generativelanguage.googleapis.com", Err: timeoutError{}},
		"dial":      &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route to host")},
		"reset":     fmt.Errorf("read body: %w", syscall.ECONNRESET),
		"truncated": fmt.Errorf("decode stream: %w", io.ErrUnexpectedEOF),
	}
	for name, cause := range cases {
		t.Run(name, func(t *testing.T) {
			err := geminiError("embed", cause)
			assert.True(t, domain.IsTransient(err))
			assert.ErrorIs(t, err, cause)
		})
	}

	assert.False(t, domain.IsTransient(geminiError("embed", errors.New("empty embedding"))))
}

func TestDocumentPrompt(t *testing.T) {
	t.Parallel()

	prompt := documentPrompt(domain.RawDocument{Kind: domain.SourceBOE, Section: "JUS", Title: "Edicto concursal", BodySnippet: "Juzgado de lo Mercantil"})
	assert.Contains(t, prompt, "Source: boe")
	assert.Contains(t, prompt, "Section: JUS")
	assert.Contains(t, prompt, "Title: Edicto concursal")
}

type recorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (r *recorder) add(body map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
}

func (r *recorder) all() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.bodies...)
}

func newChatServer(t *testing.T, status int, content string) (*httptest.Server, *recorder) {
	t.Helper()
	requests := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests.add(body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
			return
		}
		resp := map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "gpt-test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func TestChatGPTClassifyRisk(t *testing.T) {
	t.Parallel()

	srv, requests := newChatServer(t, http.StatusOK, `{"label":"High-Financial","confidence":0.88}`)
	client, err := NewChatGPTClient(config.ChatGPTConfig{Endpoint: srv.URL, Model: "gpt-test", APIKey: "key"})
	require.NoError(t, err)

	label, conf, err := client.ClassifyRisk(context.Background(), domain.RawDocument{Title: "Impago de bonos"})
	require.NoError(t, err)
	assert.Equal(t, "High-Financial", label.String())
	assert.InDelta(t, 0.88, conf, 1e-9)
	assert.Equal(t, "openai:gpt-test", client.ModelVersion())

	bodies := requests.all()
	require.Len(t, bodies, 1)
	messages := bodies[0]["messages"].([]any)
	require.Len(t, messages, 2)
	assert.True(t, strings.Contains(messages[1].(map[string]any)["content"].(string), "Impago de bonos"))
}

func TestChatGPTGenerateUsesConfiguredPrompt(t *testing.T) {
	t.Parallel()

	srv, requests := newChatServer(t, http.StatusOK, "  Riesgo alto por concurso.  ")
	client, err := NewChatGPTClient(config.ChatGPTConfig{Endpoint: srv.URL + "/", Model: "gpt-test", APIKey: "key", SystemPrompt: "Be brief."})
	require.NoError(t, err)

	text, err := client.Generate(context.Background(), "", "evidence")
	require.NoError(t, err)
	assert.Equal(t, "Riesgo alto por concurso.", text)

	system := requests.all()[0]["messages"].([]any)[0].(map[string]any)
	assert.Equal(t, "Be brief.", system["content"])
}

func TestChatGPTRateLimitIsTransient(t *testing.T) {
	t.Parallel()

	srv, _ := newChatServer(t, http.StatusTooManyRequests, "")
	client, err := NewChatGPTClient(config.ChatGPTConfig{Endpoint: srv.URL, Model: "gpt-test", APIKey: "key"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "", "evidence")
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestNewChatGPTClientRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewChatGPTClient(config.ChatGPTConfig{Endpoint: "http://x", Model: "m"})
	assert.Error(t, err)
}
