package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"paklaw.com/paklaw-assist/internal/logging"
)

const (
	defaultChatModelName = "gemini-2.5-flash-lite"
	maxOutputTokens      = 1080
	temperature          = 0.3
	defaultLLMTimeout    = 30 * time.Second
)

var errNoAPIKey = errors.New("no hosted model API key configured")

// ServiceError is a failed hosted-model call: network, quota, timeout or a
// response without usable text.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("hosted model %s failed: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Generator is the hosted language model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type LLMService struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewLLMService creates the Gemini client. An empty apiKey yields a service
// whose every call fails with a ServiceError, so callers fall back offline.
func NewLLMService(ctx context.Context, apiKey, modelName string, timeout time.Duration) (*LLMService, error) {
	if modelName == "" {
		modelName = defaultChatModelName
	}
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	s := &LLMService{
		modelName: modelName,
		timeout:   timeout,
		logger:    logging.NewModuleLogger("core", "llm"),
	}
	if apiKey == "" {
		s.logger.Warn("GEMINI_API_KEY not set, online assistant disabled")
		return s, nil
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	s.client = client
	return s, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Error("Error closing GenAI client", "error", err)
		} else {
			s.logger.Info("GenAI client closed.")
		}
	}
}

func (s *LLMService) Generate(ctx context.Context, prompt string) (string, error) {
	if s.client == nil {
		return "", &ServiceError{Op: "generate", Err: errNoAPIKey}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	model := s.client.GenerativeModel(s.modelName)
	temp := float32(temperature)
	maxTokens := int32(maxOutputTokens)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", &ServiceError{Op: "generate", Err: err}
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &ServiceError{Op: "generate", Err: errors.New("response had no candidates")}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		} else {
			s.logger.Debug("Gemini response part was not text", "type", fmt.Sprintf("%T", part))
		}
	}

	text := strings.TrimSpace(responseText.String())
	if text == "" {
		return "", &ServiceError{Op: "generate", Err: errors.New("response contained no text")}
	}

	s.logger.Debug("Gemini generation complete", "model", s.modelName, "elapsed", time.Since(start))
	return text, nil
}
