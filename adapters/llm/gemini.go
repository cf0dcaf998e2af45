package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/mediconnect/server/domain/repositories"
)

const (
	defaultModel          = "gemini-2.5-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.95
	defaultTopK           = 40
	defaultMaxTokens      = 1024
	defaultTimeoutSeconds = 30
	maxAttempts           = 3
)

// GeminiConfig configures text generation
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int
}

// GeminiHardcodedConfig holds settings that are not configurable per deployment
var GeminiHardcodedConfig = struct {
	SafetySettings []*genai.SafetySetting
	Fallbacks      []string
}{
	SafetySettings: []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockOnlyHigh},
	},
	Fallbacks: []string{
		"Habaye ikibazo cya tekiniki. Mwihangane musubiremo.",
	},
}

// NewGeminiClient creates a genai client for the Gemini Developer API
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client *genai.Client
	config GeminiConfig
	logger *zap.Logger
}

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(client *genai.Client, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = defaultTimeoutSeconds
	}
	return &GeminiLLM{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// Generate answers one request with the given system instruction and history
func (g *GeminiLLM) Generate(ctx context.Context, req repositories.GenerateRequest) (string, error) {
	contents := convertRepositoryToGeminiFormat(req.History)
	contents = append(contents, buildUserContent(req.Message))

	config := &genai.GenerateContentConfig{
		SafetySettings: GeminiHardcodedConfig.SafetySettings,
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(g.config.TimeoutSeconds)*time.Second)
	defer cancel()

	response, err := generateWithRetry(ctx, g.client, g.config.Model, contents, config, g.logger)
	if err != nil {
		return "", err
	}

	text := extractText(response)
	if text == "" {
		return "", fmt.Errorf("empty response from %s", g.config.Model)
	}
	return text, nil
}

// GenerateChat creates a chat session with history
func (g *GeminiLLM) GenerateChat(ctx context.Context, systemInstruction string, history []repositories.ChatMessage) (repositories.ChatSession, error) {
	return NewGeminiChatSession(g.client, g.config, systemInstruction, g.logger, history)
}

// generateWithRetry calls GenerateContent up to maxAttempts times with a
// linear backoff.
func generateWithRetry(ctx context.Context, client *genai.Client, model string, contents []*genai.Content, config *genai.GenerateContentConfig, logger *zap.Logger) (*genai.GenerateContentResponse, error) {
	var response *genai.GenerateContentResponse
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err = client.Models.GenerateContent(ctx, model, contents, config)
		if err == nil {
			return response, nil
		}

		logger.Warn("Failed to generate content, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * time.Second):
			}
		}
	}
	return nil, fmt.Errorf("generate content: %w", err)
}

// extractText concatenates the text parts of the first candidate
func extractText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 {
		return ""
	}
	candidate := response.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var text string
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" {
			text += part.Text
		}
	}
	return text
}

// buildUserContent places an attachment before the message text
func buildUserContent(message repositories.ChatMessage) *genai.Content {
	var parts []*genai.Part
	if a := message.Attachment; a != nil && len(a.Data) > 0 {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(message.Content))
	return genai.NewContentFromParts(parts, genai.RoleUser)
}
