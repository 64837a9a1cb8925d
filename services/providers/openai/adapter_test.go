package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/upb/ai-orchestrator/services/providers"
)

func TestNewOpenAIAdapter(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key"})

	if adapter == nil {
		t.Fatal("NewOpenAIAdapter() returned nil")
	}

	if adapter.Name() != "openai" {
		t.Errorf("Name() = %s, want openai", adapter.Name())
	}

	if adapter.config.BaseURL != defaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", adapter.config.BaseURL, defaultBaseURL)
	}

	if adapter.config.DefaultModel != defaultModel {
		t.Errorf("DefaultModel = %s, want %s", adapter.config.DefaultModel, defaultModel)
	}

	if adapter.config.HealthCheckTimeout != providers.DefaultHealthCheckTimeout {
		t.Errorf("HealthCheckTimeout = %v, want %v", adapter.config.HealthCheckTimeout, providers.DefaultHealthCheckTimeout)
	}
}

func TestOpenAIAdapter_Models(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{})

	models := adapter.Models()

	expectedModels := []string{"gpt-4", "gpt-3.5-turbo", "gpt-4-turbo", "gpt-4o", "gpt-4o-mini"}
	for _, expected := range expectedModels {
		found := false
		for _, model := range models {
			if model == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected model %s not found in list", expected)
		}
	}
}

func TestOpenAIAdapter_EstimateCost(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{})

	tests := []struct {
		name      string
		prompt    string
		opts      providers.GenerateOptions
		wantError bool
	}{
		{
			name:   "gpt-4 request",
			prompt: "Hello, how are you?",
			opts:   providers.GenerateOptions{Model: "gpt-4", MaxTokens: 100},
		},
		{
			name:   "default model",
			prompt: "Tell me a joke",
		},
		{
			name:      "invalid model",
			prompt:    "test",
			opts:      providers.GenerateOptions{Model: "not-real"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est, err := adapter.EstimateCost(tt.prompt, tt.opts)

			if tt.wantError {
				var modelErr *providers.UnknownModelError
				if !errors.As(err, &modelErr) {
					t.Fatalf("Expected UnknownModelError, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.opts.Model) {
					t.Errorf("Error %q does not name model %s", err.Error(), tt.opts.Model)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if est.EstimatedCost <= 0 {
				t.Errorf("EstimatedCost = %f, want > 0", est.EstimatedCost)
			}
			if est.Currency != providers.CurrencyUSD {
				t.Errorf("Currency = %s, want %s", est.Currency, providers.CurrencyUSD)
			}
		})
	}
}

func TestOpenAIAdapter_EstimateCost_Monotonic(t *testing.T) {
	adapter := NewOpenAIAdapter(providers.ProviderConfig{})
	opts := providers.GenerateOptions{Model: "gpt-4o", MaxTokens: 50}

	prev := 0.0
	for n := 0; n <= 2000; n += 37 {
		est, err := adapter.EstimateCost(strings.Repeat("w", n), opts)
		if err != nil {
			t.Fatalf("EstimateCost() error = %v", err)
		}
		if est.EstimatedCost < prev {
			t.Fatalf("cost decreased at length %d: %f < %f", n, est.EstimatedCost, prev)
		}
		prev = est.EstimatedCost
	}
}

func TestOpenAIAdapter_GenerateText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}

		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}

		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("Authorization header missing or invalid")
		}

		body, _ := io.ReadAll(r.Body)
		var req OpenAIChatRequest
		json.Unmarshal(body, &req)

		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "Hello" {
			t.Errorf("Unexpected messages: %+v", req.Messages)
		}
		if req.MaxTokens == nil || *req.MaxTokens != 100 {
			t.Error("max_tokens not forwarded")
		}

		resp := OpenAIChatResponse{
			ID:      "chatcmpl-test123",
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   req.Model,
			Choices: []OpenAIChoice{
				{
					Message:      OpenAIMessage{Role: "assistant", Content: "This is a test response"},
					FinishReason: "stop",
				},
			},
			Usage: OpenAIUsage{
				PromptTokens:     1000,
				CompletionTokens: 1000,
				TotalTokens:      2000,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})

	result, err := adapter.GenerateText(context.Background(), "Hello", providers.GenerateOptions{
		Model:        "gpt-4",
		MaxTokens:    100,
		Temperature:  0.7,
		SystemPrompt: "You are terse.",
	})
	if err != nil {
		t.Fatalf("GenerateText() error = %v", err)
	}

	if result.ProviderName != "openai" {
		t.Errorf("ProviderName = %s, want openai", result.ProviderName)
	}
	if result.Text != "This is a test response" {
		t.Errorf("Unexpected response text: %s", result.Text)
	}
	if result.TokensUsed != 2000 {
		t.Errorf("TokensUsed = %d, want 2000", result.TokensUsed)
	}
	// 1000 * 0.00003 + 1000 * 0.00006
	if diff := result.Cost - 0.09; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Cost = %f, want 0.09", result.Cost)
	}
}

func TestOpenAIAdapter_GenerateText_ForwardsUser(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		wantUser interface{}
	}{
		{"caller subject", map[string]string{providers.MetadataUser: "billing-service"}, "billing-service"},
		{"no user", map[string]string{"request_id": "req-1"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sent := make(chan map[string]interface{}, 1)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var req map[string]interface{}
				body, _ := io.ReadAll(r.Body)
				if err := json.Unmarshal(body, &req); err != nil {
					t.Errorf("invalid request body: %v", err)
				}
				sent <- req

				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(OpenAIChatResponse{
					Model:   "gpt-4",
					Choices: []OpenAIChoice{{Message: OpenAIMessage{Role: "assistant", Content: "ok"}}},
					Usage:   OpenAIUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
				})
			}))
			defer server.Close()

			adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

			_, err := adapter.GenerateText(context.Background(), "Hello", providers.GenerateOptions{
				Model:    "gpt-4",
				Metadata: tt.metadata,
			})
			if err != nil {
				t.Fatalf("GenerateText() error = %v", err)
			}

			user, present := (<-sent)["user"]
			if tt.wantUser == nil {
				if present {
					t.Errorf("user = %v, want field omitted", user)
				}
				return
			}
			if user != tt.wantUser {
				t.Errorf("user = %v, want %v", user, tt.wantUser)
			}
		})
	}
}

func TestOpenAIAdapter_GenerateText_Error(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
	}{
		{
			name:          "bad request",
			status:        http.StatusBadRequest,
			body:          `{"error":{"message":"Invalid request","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantRetryable: false,
		},
		{
			name:          "rate limited",
			status:        http.StatusTooManyRequests,
			body:          `{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`,
			wantRetryable: true,
		},
		{
			name:          "unparseable server error",
			status:        http.StatusBadGateway,
			body:          `upstream down`,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "k", BaseURL: server.URL})

			_, err := adapter.GenerateText(context.Background(), "test", providers.GenerateOptions{})
			if err == nil {
				t.Fatal("Expected error but got none")
			}

			var provErr *providers.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("Expected ProviderError, got %T", err)
			}
			if provErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", provErr.StatusCode, tt.status)
			}
			if provErr.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", provErr.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestOpenAIAdapter_GenerateText_UnknownModel(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{BaseURL: server.URL})

	_, err := adapter.GenerateText(context.Background(), "test", providers.GenerateOptions{Model: "gpt-0"})
	if !providers.IsUnknownModel(err) {
		t.Fatalf("Expected UnknownModelError, got %v", err)
	}
	if called {
		t.Error("Unknown model should fail before any network call")
	}
}

func TestOpenAIAdapter_GenerateText_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	adapter := NewOpenAIAdapter(providers.ProviderConfig{BaseURL: server.URL})

	_, err := adapter.GenerateText(context.Background(), "test", providers.GenerateOptions{Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !providers.IsRetryable(err) {
		t.Errorf("Timeout should be retryable: %v", err)
	}
}

func TestOpenAIAdapter_CheckHealth(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/models" {
				t.Errorf("Expected path /models, got %s", r.URL.Path)
			}
			w.Write([]byte(`{"data":[]}`))
		}))
		defer server.Close()

		adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "k", BaseURL: server.URL})
		health := adapter.CheckHealth(context.Background())

		if !health.Available || health.ErrorRate != 0 {
			t.Errorf("Unexpected health: %+v", health)
		}
		if !adapter.IsAvailable(context.Background()) {
			t.Error("IsAvailable() = false, want true")
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		adapter := NewOpenAIAdapter(providers.ProviderConfig{APIKey: "bad", BaseURL: server.URL})
		health := adapter.CheckHealth(context.Background())

		if health.Available || health.ErrorRate != 1 {
			t.Errorf("Unexpected health: %+v", health)
		}
		if adapter.IsAvailable(context.Background()) {
			t.Error("IsAvailable() = true, want false")
		}
	})

	t.Run("health check timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}))
		defer server.Close()

		adapter := NewOpenAIAdapter(providers.ProviderConfig{BaseURL: server.URL, HealthCheckTimeout: 30 * time.Millisecond})
		health := adapter.CheckHealth(context.Background())

		if health.Available {
			t.Error("Expected health check timeout to report unavailable")
		}
	})
}
