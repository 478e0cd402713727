package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
	llm "github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/llm"
)

// fakeGemini records requests and answers with a canned handler.
type fakeGemini struct {
	mu       sync.Mutex
	requests []*Request
	paths    []string
	queries  []string
	handler  http.HandlerFunc
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.requests = append(f.requests, &req)
	f.paths = append(f.paths, r.URL.Path)
	f.queries = append(f.queries, r.URL.RawQuery)
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeGemini) lastRequest(t *testing.T) *Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func sseHandler(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\r\n\r\n", c)
			w.(http.Flusher).Flush()
		}
	}
}

func newTestProvider(t *testing.T, f *fakeGemini, idle time.Duration) *Provider {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(llm.ProviderConfig{
		Type:        "gemini",
		BaseURL:     srv.URL,
		APIKey:      "test-key",
		Model:       "google/gemini-2.0-flash",
		IdleTimeout: idle,
	}, zap.NewNop())
}

func drain(t *testing.T, s service.GenerationStream) []service.StreamEvent {
	t.Helper()
	var events []service.StreamEvent
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestStream_TextAndGrounding(t *testing.T) {
	f := &fakeGemini{handler: sseHandler(
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hel"}]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]},"groundingMetadata":{"groundingChunks":[{"web":{"uri":"https://old","title":"old"}}],"webSearchQueries":["first"]}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"thinking","thought":true}]},"groundingMetadata":{}}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"!"}]},"finishReason":"STOP","groundingMetadata":{"groundingChunks":[{"web":{"uri":"https://new"}},{"retrievedContext":{}}]}}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3,"totalTokenCount":10}}`,
	)}
	p := newTestProvider(t, f, time.Second)

	s := p.Stream(context.Background(), service.GenerationRequest{
		Message:      "Hello",
		History:      []entity.HistoryEntry{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hey"}},
		SystemPrompt: "be brief",
		UseGrounding: true,
	})
	defer s.Close()
	events := drain(t, s)

	require.Len(t, events, 4)
	assert.Equal(t, "Hel", events[0].Text)
	assert.Equal(t, "lo", events[1].Text)
	assert.Equal(t, "!", events[2].Text)

	g := events[3].Grounding
	require.NotNil(t, g)
	assert.Equal(t, []entity.GroundingSource{{Title: "", URI: "https://new"}}, g.Sources)
	assert.Empty(t, g.SearchQueries, "snapshots replace, they do not merge")
	assert.Equal(t, service.Usage{InputTokens: 7, OutputTokens: 3}, s.Usage())

	req := f.lastRequest(t)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:streamGenerateContent", f.paths[0])
	assert.Contains(t, f.queries[0], "alt=sse")
	assert.Contains(t, f.queries[0], "key=test-key")
	require.Len(t, req.Tools, 1)
	assert.NotNil(t, req.Tools[0].GoogleSearch)

	require.Len(t, req.Contents, 5)
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Equal(t, service.SystemPromptPreamble+"be brief", req.Contents[0].Parts[0].Text)
	assert.Equal(t, "model", req.Contents[1].Role)
	assert.Equal(t, "user", req.Contents[2].Role)
	assert.Equal(t, "model", req.Contents[3].Role)
	assert.Equal(t, "Hello", req.Contents[4].Parts[0].Text)
}

func TestStream_NoGroundingWhenDisabled(t *testing.T) {
	f := &fakeGemini{handler: sseHandler(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)}
	p := newTestProvider(t, f, time.Second)

	events := drain(t, p.Stream(context.Background(), service.GenerationRequest{Message: "q"}))

	require.Len(t, events, 1)
	assert.Nil(t, events[0].Grounding)
	assert.Empty(t, f.lastRequest(t).Tools)
}

func TestStream_UpstreamErrorBecomesFailureEvent(t *testing.T) {
	f := &fakeGemini{handler: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"code":503,"message":"The model is overloaded.","status":"UNAVAILABLE"}}`)
	}}
	p := newTestProvider(t, f, time.Second)

	events := drain(t, p.Stream(context.Background(), service.GenerationRequest{Message: "q"}))

	require.Len(t, events, 1)
	require.NotNil(t, events[0].Failure)
	assert.Equal(t, service.UserErrorPrefix+"The model is overloaded.", events[0].Text)
	assert.Equal(t, service.ErrKindTransient, events[0].Failure.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, events[0].Failure.StatusCode)
}

func TestStream_MidStreamErrorChunk(t *testing.T) {
	f := &fakeGemini{handler: sseHandler(
		`{"candidates":[{"content":{"parts":[{"text":"partial"}]},"groundingMetadata":{"webSearchQueries":["q"]}}]}`,
		`{"error":{"code":500,"message":"internal"}}`,
	)}
	p := newTestProvider(t, f, time.Second)

	events := drain(t, p.Stream(context.Background(), service.GenerationRequest{Message: "q", UseGrounding: true}))

	require.Len(t, events, 2)
	assert.Equal(t, "partial", events[0].Text)
	require.NotNil(t, events[1].Failure)
	assert.Nil(t, events[1].Grounding)
}

func TestStream_IdleTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := &fakeGemini{handler: func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"first\"}]}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}}
	p := newTestProvider(t, f, 50*time.Millisecond)

	events := drain(t, p.Stream(context.Background(), service.GenerationRequest{Message: "q"}))

	require.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Text)
	require.NotNil(t, events[1].Failure)
	assert.Equal(t, service.ErrKindIdleTimeout, events[1].Failure.Kind)
}

func TestStream_ContextCancelEndsQuietly(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	f := &fakeGemini{handler: func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"a\"}]}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}}
	p := newTestProvider(t, f, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	s := p.Stream(ctx, service.GenerationRequest{Message: "q"})
	ev, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Text)

	cancel()
	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamWithFiles_ImagesDropHistory(t *testing.T) {
	f := &fakeGemini{handler: sseHandler(`{"candidates":[{"content":{"parts":[{"text":"a cat"}]}}]}`)}
	p := newTestProvider(t, f, time.Second)

	events := drain(t, p.StreamWithFiles(context.Background(), service.GenerationRequest{
		Message:      "what is this?",
		History:      []entity.HistoryEntry{{Role: "user", Content: "earlier"}},
		SystemPrompt: "sp",
		Files: []entity.ExtractedFile{
			{Kind: entity.FileKindText, Filename: "notes.docx", Content: "some notes"},
			{Kind: entity.FileKindImage, Filename: "cat.gif", Content: "R0lG", MIMEType: "image/gif"},
			{Kind: entity.FileKindImage, Filename: "dog.png", Content: "iVBO", MIMEType: "image/png"},
		},
	}))
	require.Len(t, events, 1)

	req := f.lastRequest(t)
	require.Len(t, req.Contents, 1)
	parts := req.Contents[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, "what is this?\n\n"+fmt.Sprintf(FileLabel, "notes.docx")+"\nsome notes", parts[0].Text)
	assert.Equal(t, &Blob{MimeType: "image/jpeg", Data: "R0lG"}, parts[1].InlineData)
	assert.Equal(t, &Blob{MimeType: "image/png", Data: "iVBO"}, parts[2].InlineData)
}

func TestStreamWithFiles_TextOnlyKeepsHistory(t *testing.T) {
	f := &fakeGemini{handler: sseHandler(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)}
	p := newTestProvider(t, f, time.Second)

	drain(t, p.StreamWithFiles(context.Background(), service.GenerationRequest{
		Message: "summarise",
		History: []entity.HistoryEntry{{Role: "user", Content: "earlier"}, {Role: "assistant", Content: "sure"}},
		Files:   []entity.ExtractedFile{{Kind: entity.FileKindText, Filename: "a.pdf", Content: "pdf text"}},
	}))

	req := f.lastRequest(t)
	require.Len(t, req.Contents, 3)
	last := req.Contents[2].Parts[0].Text
	assert.True(t, strings.HasPrefix(last, "summarise\n\n【ファイル: a.pdf】\n"), last)
}

func TestGenerate(t *testing.T) {
	f := &fakeGemini{handler: func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"Hi "},{"text":"there"}]}}],"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":2},"modelVersion":"gemini-2.0-flash-001"}`)
	}}
	p := newTestProvider(t, f, time.Second)

	res, err := p.Generate(context.Background(), "Hello", []entity.HistoryEntry{{Role: "user", Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", res.Text)
	assert.Equal(t, "gemini-2.0-flash-001", res.Model)
	assert.Equal(t, 2, res.Usage.OutputTokens)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", f.paths[0])
	assert.Len(t, f.lastRequest(t).Contents, 2)
}

func TestGenerate_Errors(t *testing.T) {
	f := &fakeGemini{handler: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"API key not valid."}}`)
	}}
	p := newTestProvider(t, f, time.Second)

	_, err := p.Generate(context.Background(), "Hello", nil)
	ue, ok := service.AsUpstreamError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "API key not valid.", ue.Message)
	assert.Equal(t, service.ErrKindBadRequest, ue.Kind)

	noKey := New(llm.ProviderConfig{}, zap.NewNop())
	_, err = noKey.Generate(context.Background(), "Hello", nil)
	ue, ok = service.AsUpstreamError(err)
	require.True(t, ok)
	assert.Equal(t, service.ErrKindAuth, ue.Kind)
	assert.Equal(t, DefaultModel, noKey.Model())
}
