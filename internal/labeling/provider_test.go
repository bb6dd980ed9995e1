package labeling

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/trendwire/pkg/models"
)

var providerMembers = []*models.Article{
	{ID: "a", Title: "Quake strikes off coast", Excerpt: "A strong earthquake was felt.", FeedName: "BBC"},
	{ID: "b", Title: "Earthquake shakes region", Excerpt: "Residents evacuated.", FeedName: "Reuters"},
}

func openAIReply(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestChatProvider_OpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Contains(t, req.Messages[0].Content, "Quake strikes off coast")

		_, _ = io.WriteString(w, openAIReply("TOPIC: Coastal earthquake\nSUMMARY: A strong quake struck offshore."))
	}))
	defer server.Close()

	p, err := NewChatProvider(ChatConfig{Provider: "openai", BaseURL: server.URL, APIKey: "test-key", Model: "test-model"})
	require.NoError(t, err)

	label, err := p.GenerateLabel(context.Background(), providerMembers)
	require.NoError(t, err)
	assert.Equal(t, "Coastal earthquake", label.Topic)
	assert.Equal(t, "A strong quake struck offshore.", label.Summary)
}

func TestChatProvider_Anthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"TOPIC: Coastal earthquake\nSUMMARY: A quake struck."}]}`)
	}))
	defer server.Close()

	p, err := NewChatProvider(ChatConfig{Provider: "anthropic", BaseURL: server.URL + "/", APIKey: "test-key"})
	require.NoError(t, err)
	assert.Equal(t, defaultAnthropicModel, p.model)

	label, err := p.GenerateLabel(context.Background(), providerMembers)
	require.NoError(t, err)
	assert.Equal(t, "Coastal earthquake", label.Topic)
}

func TestChatProvider_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		malformed bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: "slow down", transient: true},
		{name: "server error", status: http.StatusBadGateway, transient: true},
		{name: "unauthorized", status: http.StatusUnauthorized, body: "bad key"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, malformed: true},
		{name: "not json", status: http.StatusOK, body: `<html>`, malformed: true},
		{name: "unparseable text", status: http.StatusOK, body: openAIReply("no idea"), malformed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			p, err := NewChatProvider(ChatConfig{BaseURL: server.URL, APIKey: "k"})
			require.NoError(t, err)

			_, err = p.GenerateLabel(context.Background(), providerMembers)
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			assert.Equal(t, tt.malformed, errors.Is(err, ErrMalformedLabel))

			var pe *ProviderError
			if errors.As(err, &pe) {
				assert.Equal(t, tt.status, pe.StatusCode)
			}
		})
	}
}

func TestNewChatProvider_Validation(t *testing.T) {
	_, err := NewChatProvider(ChatConfig{})
	assert.Error(t, err)

	_, err = NewChatProvider(ChatConfig{Provider: "mystery", APIKey: "k"})
	assert.Error(t, err)

	p, err := NewChatProvider(ChatConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, p.provider)
	assert.Equal(t, defaultOpenAIBaseURL+"/chat/completions", p.endpoint)
}

func TestLabeler_WithChatProviderRetriesRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, openAIReply("TOPIC: Coastal earthquake\nSUMMARY: A quake struck."))
	}))
	defer server.Close()

	p, err := NewChatProvider(ChatConfig{BaseURL: server.URL, APIKey: "k"})
	require.NoError(t, err)

	var slept []time.Duration
	l := NewLabeler(p, Options{})
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	label := l.Label(context.Background(), providerMembers)
	assert.False(t, label.Fallback)
	assert.Equal(t, "Coastal earthquake", label.Topic)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}
