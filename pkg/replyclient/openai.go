package replyclient

import (
	"context"
	"errors"
	"strings"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/replysync"
	"github.com/go-go-golems/parley/pkg/transitions"
	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"
)

const DefaultOpenAIModel = openai.GPT3Dot5Turbo

// OpenAIReplyService answers with a chat completion instead of the /ask endpoint.
type OpenAIReplyService struct {
	client       *openai.Client
	model        string
	systemPrompt string
}

type OpenAIOption func(*OpenAIReplyService)

func WithModel(model string) OpenAIOption {
	return func(s *OpenAIReplyService) {
		if model != "" {
			s.model = model
		}
	}
}

func WithSystemPrompt(prompt string) OpenAIOption {
	return func(s *OpenAIReplyService) {
		s.systemPrompt = prompt
	}
}

func NewOpenAIReplyService(config openai.ClientConfig, options ...OpenAIOption) *OpenAIReplyService {
	s := &OpenAIReplyService{
		client: openai.NewClientWithConfig(config),
		model:  DefaultOpenAIModel,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *OpenAIReplyService) Reply(ctx context.Context, payload transitions.Payload) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(payload.Messages)+1)
	if s.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: s.systemPrompt})
	}
	for _, t := range payload.Messages {
		role := openai.ChatMessageRoleUser
		if t.Role == conversations.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	log.Debug().Str("model", s.model).Int("messages", len(msgs)).Msg("Requesting chat completion")
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: msgs,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &replysync.MalformedResponseError{Reason: "completion has no choices"}
	}
	reply := resp.Choices[0].Message.Content
	if strings.TrimSpace(reply) == "" {
		return "", &replysync.MalformedResponseError{Reason: "completion is empty"}
	}
	return reply, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &replysync.ServiceError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &replysync.ServiceError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return &replysync.NetworkUnavailableError{Err: err}
}

var _ replysync.ReplyService = (*OpenAIReplyService)(nil)
