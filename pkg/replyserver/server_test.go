package replyserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-go-golems/parley/pkg/conversations"
	"github.com/go-go-golems/parley/pkg/replyclient"
	"github.com/go-go-golems/parley/pkg/replysync"
	"github.com/go-go-golems/parley/pkg/transitions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAsk_EchoesLastUserMessage(t *testing.T) {
	rec := post(t, New(), `{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"yo"},{"role":"user","content":"ping"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	reply, err := replyclient.ParseReply(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "You said: ping", reply)
}

func TestAsk_RejectsBadRequests(t *testing.T) {
	s := New()
	for _, body := range []string{
		`not json`,
		`{"messages":[]}`,
		`{"messages":[{"role":"assistant","content":"hi"}]}`,
		`{"messages":[{"role":"user","content":"  "}]}`,
	} {
		rec := post(t, s, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestAsk_FailureAndResponderError(t *testing.T) {
	rec := post(t, New(WithFailure(http.StatusServiceUnavailable)), `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	failing := New(WithResponder(func(ctx context.Context, payload transitions.Payload) (string, error) {
		return "", errors.New("model offline")
	}))
	rec = post(t, failing, `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "model offline")
}

func TestStubServesHTTPReplyService(t *testing.T) {
	srv := httptest.NewServer(New().Handler())
	defer srv.Close()

	client := replyclient.NewHTTPReplyService(srv.URL + "/ask")
	reply, err := client.Reply(context.Background(), transitions.Payload{Messages: []transitions.Turn{
		{Role: conversations.RoleUser, Content: "hello"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "You said: hello", reply)

	failing := httptest.NewServer(New(WithFailure(http.StatusInternalServerError)).Handler())
	defer failing.Close()
	_, err = replyclient.NewHTTPReplyService(failing.URL + "/ask").Reply(context.Background(), transitions.Payload{Messages: []transitions.Turn{
		{Role: conversations.RoleUser, Content: "hello"},
	}})
	assert.Equal(t, replysync.FailureService, replysync.KindOf(err))
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
