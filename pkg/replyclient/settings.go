package replyclient

import (
	"fmt"
	"time"

	"github.com/go-go-golems/parley/pkg/replysync"
	"github.com/sashabaranov/go-openai"
)

const (
	BackendHTTP   = "http"
	BackendOpenAI = "openai"
)

type Settings struct {
	Backend        string        `yaml:"backend" mapstructure:"backend"`
	Endpoint       string        `yaml:"endpoint" mapstructure:"endpoint"`
	RequestTimeout time.Duration `yaml:"request-timeout" mapstructure:"request-timeout"`
	OpenAIAPIKey   string        `yaml:"openai-api-key" mapstructure:"openai-api-key"`
	OpenAIBaseURL  string        `yaml:"openai-base-url" mapstructure:"openai-base-url"`
	OpenAIModel    string        `yaml:"openai-model" mapstructure:"openai-model"`
	SystemPrompt   string        `yaml:"system-prompt" mapstructure:"system-prompt"`
}

// New builds the reply service selected by s.Backend.
func New(s Settings) (replysync.ReplyService, error) {
	switch s.Backend {
	case "", BackendHTTP:
		return NewHTTPReplyService(s.Endpoint, WithTimeout(s.RequestTimeout)), nil
	case BackendOpenAI:
		if s.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("backend %q needs openai-api-key", BackendOpenAI)
		}
		cfg := openai.DefaultConfig(s.OpenAIAPIKey)
		if s.OpenAIBaseURL != "" {
			cfg.BaseURL = s.OpenAIBaseURL
		}
		if s.RequestTimeout > 0 {
			cfg.HTTPClient.Timeout = s.RequestTimeout
		}
		return NewOpenAIReplyService(cfg, WithModel(s.OpenAIModel), WithSystemPrompt(s.SystemPrompt)), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", s.Backend)
	}
}
