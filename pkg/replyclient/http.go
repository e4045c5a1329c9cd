package replyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-go-golems/parley/pkg/replysync"
	"github.com/go-go-golems/parley/pkg/transitions"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

const (
	DefaultEndpoint = "http://localhost:3000/ask"
	DefaultTimeout  = 60 * time.Second

	maxBodyBytes = 1 << 20
)

// ReplySchema is the contract for a successful /ask response: an object with
// a non-blank string field "reply".
const ReplySchema = `{
  "type": "object",
  "properties": {
    "reply": {"type": "string", "pattern": "\\S"}
  },
  "required": ["reply"]
}`

var replySchema *gojsonschema.Schema

func init() {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ReplySchema))
	if err != nil {
		panic(err)
	}
	replySchema = s
}

// AskRequest is the body posted to the reply endpoint.
type AskRequest = transitions.Payload

type AskResponse struct {
	Reply string `json:"reply"`
}

// HTTPReplyService posts the conversation history as JSON and reads the
// reply field of the response.
type HTTPReplyService struct {
	endpoint string
	client   *http.Client
}

type HTTPOption func(*HTTPReplyService)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPReplyService) {
		s.client = client
	}
}

func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPReplyService) {
		if d > 0 {
			s.client.Timeout = d
		}
	}
}

func NewHTTPReplyService(endpoint string, options ...HTTPOption) *HTTPReplyService {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	s := &HTTPReplyService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *HTTPReplyService) Endpoint() string {
	return s.endpoint
}

func (s *HTTPReplyService) Reply(ctx context.Context, payload transitions.Payload) (string, error) {
	if payload.Messages == nil {
		payload.Messages = []transitions.Turn{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal ask request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(b))
	if err != nil {
		return "", errors.Wrap(err, "build ask request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.Debug().Str("endpoint", s.endpoint).Int("messages", len(payload.Messages)).Msg("Posting ask request")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", &replysync.NetworkUnavailableError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &replysync.NetworkUnavailableError{Err: errors.Wrap(err, "read ask response")}
	}
	log.Debug().Int("status", resp.StatusCode).Str("content_type", resp.Header.Get("Content-Type")).Msg("Ask response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &replysync.ServiceError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return ParseReply(body)
}

// ParseReply validates a response body against ReplySchema and returns the reply.
func ParseReply(body []byte) (string, error) {
	result, err := replySchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return "", &replysync.MalformedResponseError{Reason: "response is not JSON: " + err.Error()}
	}
	if !result.Valid() {
		descs := make([]string, 0, len(result.Errors()))
		for _, d := range result.Errors() {
			descs = append(descs, d.String())
		}
		return "", &replysync.MalformedResponseError{Reason: strings.Join(descs, "; ")}
	}

	var ret AskResponse
	if err := json.Unmarshal(body, &ret); err != nil {
		return "", &replysync.MalformedResponseError{Reason: err.Error()}
	}
	return ret.Reply, nil
}

var _ replysync.ReplyService = (*HTTPReplyService)(nil)
