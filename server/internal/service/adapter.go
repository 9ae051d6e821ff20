package service

import (
	"context"
	"errors"
	"fmt"

	"DocChat/server/internal/conf"
	"DocChat/server/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// AIAdapter talks to an OpenAI-compatible API for both model calls.
type AIAdapter struct {
	client     *openai.Client
	embedModel string
	chatModel  string
}

func NewAIAdapter(cfg conf.AIConfig) *AIAdapter {
	oc := openai.DefaultConfig(cfg.OpenAIKey)
	if cfg.OpenAIBaseURL != "" {
		oc.BaseURL = cfg.OpenAIBaseURL
	}
	return &AIAdapter{
		client:     openai.NewClientWithConfig(oc),
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
	}
}

func (a *AIAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(a.embedModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func (a *AIAdapter) Generate(ctx context.Context, turns []model.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    a.chatModel,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat: no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
