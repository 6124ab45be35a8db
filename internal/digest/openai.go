// Package digest generates conversation summaries for rooms via the
// OpenAI chat completions API.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// minTranscriptWords is the threshold below which a transcript is too
// short to be worth summarizing.
const minTranscriptWords = 20

type OpenAI struct {
	client *openai.Client
	model  string
	sleep  func(time.Duration)
}

func NewOpenAI(apiKey, model string) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), model)
}

func NewOpenAIWithConfig(config openai.ClientConfig, model string) *OpenAI {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  model,
		sleep:  time.Sleep,
	}
}

// Digest summarizes a room transcript. Transcripts with too little
// content return an empty digest without calling the API.
func (s *OpenAI) Digest(ctx context.Context, room, transcript string) (string, error) {
	if len(strings.Fields(transcript)) < minTranscriptWords {
		return "", nil
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Summarize the following chat room conversation concisely in markdown. Include key topics, decisions made, and action items if any.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: transcript,
			},
		},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := 0; attempt < len(backoff); attempt++ {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if attempt < len(backoff)-1 {
			s.sleep(backoff[attempt])
		}
	}

	return "", fmt.Errorf("digest for room %s failed after retries: %w", room, lastErr)
}
