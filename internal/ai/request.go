package ai

import (
	"encoding/json"
	"strings"

	"example.com/click/backend/internal/models"
)

const (
	RequestTypePrediction = "prediction"
	RequestTypeAdvisor    = "advisor"

	responseFormatJSON = "json_object"
	maxHistoryTurns    = 10
)

type RequestOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// BuildPredictionRequest собирает запрос прогноза: системный промпт и профиль в виде JSON.
func BuildPredictionRequest(profile models.UserProfile, options RequestOptions) (ChatRequest, error) {
	payload, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return ChatRequest{}, err
	}

	return ChatRequest{
		Model: options.Model,
		Messages: []Message{
			{Role: "system", Content: predictionSystemPrompt},
			{Role: "user", Content: string(payload)},
		},
		Temperature:    options.Temperature,
		MaxTokens:      options.MaxTokens,
		ResponseFormat: &ResponseFormat{Type: responseFormatJSON},
	}, nil
}

// BuildAdvisorRequest собирает запрос советника с последними репликами диалога.
func BuildAdvisorRequest(question string, history []models.ChatTurn, options RequestOptions) ChatRequest {
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: advisorSystemPrompt})
	for _, turn := range history {
		messages = append(messages, Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, Message{Role: "user", Content: strings.TrimSpace(question)})

	return ChatRequest{
		Model:          options.Model,
		Messages:       messages,
		Temperature:    options.Temperature,
		MaxTokens:      options.MaxTokens,
		ResponseFormat: &ResponseFormat{Type: responseFormatJSON},
	}
}
