package usecase

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/persistence"
	domainErrors "github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

type streamFixture struct {
	repo    *persistence.MemoryConversationRepository
	client  *scriptedClient
	metrics *countingMetrics
	orch    *ChatStreamOrchestrator
}

func newStreamFixture(t *testing.T, events ...service.StreamEvent) *streamFixture {
	t.Helper()
	f := &streamFixture{
		repo:    persistence.NewMemoryConversationRepository(),
		client:  &scriptedClient{events: events, usage: service.Usage{InputTokens: 12, OutputTokens: 4}},
		metrics: &countingMetrics{},
	}
	f.orch = f.build(f.repo)
	return f
}

func (f *streamFixture) build(repo repository.ConversationRepository) *ChatStreamOrchestrator {
	catalog := persistence.NewMemoryModelCatalog(activeModel(7, "gemini-2.0-flash", 1))
	return NewChatStreamOrchestrator(repo, catalog, &fakeExtractor{failing: map[string]bool{"broken.pdf": true}},
		f.client, f.metrics, DefaultChatLimits(), zap.NewNop())
}

func (f *streamFixture) run(t *testing.T, req ChatRequest, sink *recordingSink) *PreparedStream {
	t.Helper()
	ctx := context.Background()
	p, err := f.orch.Prepare(ctx, req)
	require.NoError(t, err)
	require.NoError(t, f.orch.Stream(ctx, p, sink))
	return p
}

func TestStream_NewConversationWithGrounding(t *testing.T) {
	g1 := &entity.GroundingResult{SearchQueries: []string{"go release"}}
	g2 := &entity.GroundingResult{
		Sources:       []entity.GroundingSource{{Title: "go.dev", URI: "https://go.dev"}},
		SearchQueries: []string{"go 1.24 release"},
	}
	f := newStreamFixture(t,
		service.StreamEvent{Text: "Go 1.24 "},
		service.StreamEvent{Grounding: g1},
		service.StreamEvent{Text: "is out."},
		service.StreamEvent{Grounding: &entity.GroundingResult{}},
		service.StreamEvent{Grounding: g2},
	)
	sink := &recordingSink{}
	p := f.run(t, ChatRequest{
		UserID:       "u1",
		Message:      "What is new in Go?",
		History:      []entity.HistoryEntry{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
		UseGrounding: true,
	}, sink)

	assert.Equal(t, []string{"conversation_id", "content", "grounding", "content", "grounding", "done"}, sink.events)
	assert.Equal(t, p.Conversation.ID, sink.convID)
	assert.Equal(t, "What is new in Go?", p.Conversation.Title)
	assert.Equal(t, uint(7), p.Conversation.AIModelID)
	assert.Same(t, g2, sink.grounding[len(sink.grounding)-1])
	assert.False(t, f.client.withFiles)
	assert.True(t, f.client.lastReq.UseGrounding)
	assert.Len(t, f.client.lastReq.History, 2)

	msgs := f.repo.Messages(p.Conversation.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, entity.RoleUser, msgs[0].Role)
	assert.Equal(t, "What is new in Go?", msgs[0].Content)

	reply := msgs[1]
	assert.Equal(t, entity.RoleAssistant, reply.Role)
	assert.Equal(t, "Go 1.24 is out.", reply.Content)
	require.NotNil(t, reply.Metadata)
	assert.Equal(t, g2.Sources, reply.Metadata.GroundingSources)
	assert.Equal(t, []string{"go 1.24 release"}, reply.Metadata.SearchQueries)
	require.NotNil(t, reply.AIModelID)
	assert.Equal(t, uint(7), *reply.AIModelID)
	require.NotNil(t, reply.InputTokens)
	assert.Equal(t, 12, *reply.InputTokens)

	assert.Equal(t, []service.StreamOutcome{service.OutcomeCompleted}, f.metrics.outcomes)
	assert.Equal(t, 12, f.metrics.tokensIn)
}

func TestStream_NoGroundingLeavesMetadataEmpty(t *testing.T) {
	f := newStreamFixture(t, service.StreamEvent{Text: "plain"})
	sink := &recordingSink{}
	p := f.run(t, ChatRequest{UserID: "u1", Message: "hi"}, sink)

	assert.Equal(t, []string{"conversation_id", "content", "done"}, sink.events)
	msgs := f.repo.Messages(p.Conversation.ID)
	require.Len(t, msgs, 2)
	assert.Nil(t, msgs[1].Metadata)
}

func TestStream_ExistingConversation(t *testing.T) {
	f := newStreamFixture(t, service.StreamEvent{Text: "again"})
	conv, err := entity.NewConversation("u1", 3, "kept title", time1())
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(context.Background(), conv))

	sink := &recordingSink{}
	p := f.run(t, ChatRequest{UserID: "u1", Message: "second question", ConversationID: conv.ID}, sink)

	assert.Equal(t, conv.ID, p.Conversation.ID)
	assert.Equal(t, "kept title", p.Conversation.Title)
	got, err := f.repo.FindForUser(context.Background(), "u1", conv.ID)
	require.NoError(t, err)
	assert.True(t, got.LastMessageAt.After(time1()))
}

func TestPrepare_ForeignConversationIsNotFound(t *testing.T) {
	f := newStreamFixture(t)
	conv, err := entity.NewConversation("owner", 1, "private", time1())
	require.NoError(t, err)
	require.NoError(t, f.repo.Create(context.Background(), conv))

	_, err = f.orch.Prepare(context.Background(), ChatRequest{UserID: "intruder", Message: "hi", ConversationID: conv.ID})
	assert.True(t, domainErrors.IsNotFound(err))
	assert.Empty(t, f.repo.Messages(conv.ID))
}

func TestPrepare_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  ChatRequest
		code domainErrors.ErrorCode
	}{
		{"missing user", ChatRequest{Message: "hi"}, domainErrors.CodeUnauthorized},
		{"empty message", ChatRequest{UserID: "u1", Message: "  "}, domainErrors.CodeInvalidInput},
		{"message too long", ChatRequest{UserID: "u1", Message: strings.Repeat("あ", 10001)}, domainErrors.CodeInvalidInput},
		{"system prompt too long", ChatRequest{UserID: "u1", Message: "hi", SystemPrompt: strings.Repeat("x", 10001)}, domainErrors.CodeInvalidInput},
		{"file too large", ChatRequest{UserID: "u1", Message: "hi", Uploads: []entity.Upload{{Filename: "a.txt", Data: make([]byte, 10<<20+1)}}}, domainErrors.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newStreamFixture(t)
			_, err := f.orch.Prepare(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, domainErrors.CodeOf(err))
			list, _ := f.repo.ListForUser(context.Background(), "u1", 0)
			assert.Empty(t, list, "no conversation is created for rejected input")
		})
	}
}

func TestStream_LenientHistory(t *testing.T) {
	f := newStreamFixture(t, service.StreamEvent{Text: "ok"})
	history := []entity.HistoryEntry{
		{Role: "user", Content: "first"},
		{Role: "model", Content: "prior"},
		{Role: "assistant", Content: ""},
	}
	sink := &recordingSink{}
	f.run(t, ChatRequest{UserID: "u1", Message: "next", History: history}, sink)

	assert.Equal(t, "done", sink.events[len(sink.events)-1])
	require.Len(t, f.client.lastReq.History, 3)
	assert.Equal(t, "model", f.client.lastReq.History[1].Role)
}

func TestStream_MessageAtLimitIsAccepted(t *testing.T) {
	f := newStreamFixture(t, service.StreamEvent{Text: "ok"})
	msg := strings.Repeat("あ", 10000)
	p := f.run(t, ChatRequest{UserID: "u1", Message: msg}, &recordingSink{})
	assert.Equal(t, strings.Repeat("あ", 50)+"...", p.Conversation.Title)
}

func TestStream_Attachments(t *testing.T) {
	f := newStreamFixture(t, service.StreamEvent{Text: "read them"})
	sink := &recordingSink{}
	p := f.run(t, ChatRequest{
		UserID:  "u1",
		Message: "Summarise",
		History: []entity.HistoryEntry{{Role: "user", Content: "earlier"}},
		Uploads: []entity.Upload{
			{Filename: "notes.txt", Data: []byte("alpha")},
			{Filename: "binary.exe", Data: []byte{0x4d, 0x5a}},
			{Filename: "broken.pdf", Data: []byte("%PDF")},
			{Filename: "data.csv", Data: []byte("a,b")},
		},
	}, sink)

	assert.True(t, f.client.withFiles)
	require.Len(t, p.Files(), 2)
	assert.Equal(t, "notes.txt", p.Files()[0].Filename)
	assert.Equal(t, "Summarise", f.client.lastReq.Message, "the manifest is never sent to the model")

	msgs := f.repo.Messages(p.Conversation.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Summarise\n\n📎 添付ファイル: notes.txt, data.csv", msgs[0].Content)
	assert.Equal(t, 2, f.metrics.extracted)
	assert.Equal(t, 1, f.metrics.failed)
}

func TestStream_OnlyUnsupportedFilesUsesPlainStream(t *testing.T) {
	f := newStreamFixture(t, service.StreamEvent{Text: "ok"})
	p := f.run(t, ChatRequest{
		UserID:  "u1",
		Message: "look",
		Uploads: []entity.Upload{{Filename: "binary.exe", Data: []byte{1}}},
	}, &recordingSink{})

	assert.False(t, f.client.withFiles)
	assert.Equal(t, "look", f.repo.Messages(p.Conversation.ID)[0].Content)
}

func TestStream_UpstreamFailureIsRelayedAndStored(t *testing.T) {
	uerr := service.NewUpstreamError("gemini-2.0-flash", 503, "model overloaded", nil)
	f := newStreamFixture(t,
		service.StreamEvent{Text: "Partial "},
		service.StreamEvent{Text: uerr.UserMessage(), Failure: uerr},
	)
	sink := &recordingSink{}
	p := f.run(t, ChatRequest{UserID: "u1", Message: "hi"}, sink)

	assert.Equal(t, []string{"conversation_id", "content", "content", "done"}, sink.events)
	assert.Equal(t, "エラーが発生しました: model overloaded", sink.content[1])

	msgs := f.repo.Messages(p.Conversation.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Partial エラーが発生しました: model overloaded", msgs[1].Content)
	require.NotNil(t, msgs[1].Metadata)
	assert.Contains(t, msgs[1].Metadata.GenerationError, "model overloaded")

	assert.Equal(t, []service.UpstreamErrorKind{service.ErrKindTransient}, f.metrics.upstream)
	assert.Equal(t, []service.StreamOutcome{service.OutcomeFailed}, f.metrics.outcomes)
}

func TestStream_ClientDisconnectKeepsPartialReply(t *testing.T) {
	f := newStreamFixture(t,
		service.StreamEvent{Text: "one "},
		service.StreamEvent{Text: "two "},
		service.StreamEvent{Text: "three"},
	)
	sink := &recordingSink{failAfter: 2}
	p := f.run(t, ChatRequest{UserID: "u1", Message: "count"}, sink)

	assert.Equal(t, []string{"conversation_id", "content"}, sink.events)
	msgs := f.repo.Messages(p.Conversation.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one two ", msgs[1].Content)
	assert.Equal(t, []service.StreamOutcome{service.OutcomeDisconnected}, f.metrics.outcomes)
}

func TestStream_CancelledBeforeContentStoresNothing(t *testing.T) {
	f := newStreamFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	p, err := f.orch.Prepare(ctx, ChatRequest{UserID: "u1", Message: "hi"})
	require.NoError(t, err)
	cancel()

	sink := &recordingSink{}
	require.NoError(t, f.orch.Stream(ctx, p, sink))
	assert.NotContains(t, sink.events, "done")
	assert.Len(t, f.repo.Messages(p.Conversation.ID), 1, "only the user message")
}

func TestStream_CancellationFailureIsNotStored(t *testing.T) {
	cancelled := &service.UpstreamGenerationError{Kind: service.ErrKindCancelled, Message: "HTTP request failed"}
	f := newStreamFixture(t, service.StreamEvent{Text: cancelled.UserMessage(), Failure: cancelled})
	ctx, cancel := context.WithCancel(context.Background())
	p, err := f.orch.Prepare(ctx, ChatRequest{UserID: "u1", Message: "hi"})
	require.NoError(t, err)
	cancel()

	sink := &recordingSink{}
	require.NoError(t, f.orch.Stream(ctx, p, sink))
	assert.Equal(t, []string{"conversation_id"}, sink.events)
	assert.Len(t, f.repo.Messages(p.Conversation.ID), 1, "only the user message")
	assert.Empty(t, f.metrics.upstream)
	assert.Equal(t, []service.StreamOutcome{service.OutcomeDisconnected}, f.metrics.outcomes)
}

func TestStream_CancellationAfterPartialKeepsOnlyText(t *testing.T) {
	cancelled := &service.UpstreamGenerationError{Kind: service.ErrKindCancelled, Message: "context canceled"}
	f := newStreamFixture(t,
		service.StreamEvent{Text: "half "},
		service.StreamEvent{Text: cancelled.UserMessage(), Failure: cancelled},
	)
	p := f.run(t, ChatRequest{UserID: "u1", Message: "hi"}, &recordingSink{})

	msgs := f.repo.Messages(p.Conversation.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "half ", msgs[1].Content)
	if msgs[1].Metadata != nil {
		assert.Empty(t, msgs[1].Metadata.GenerationError)
	}
	assert.Equal(t, []service.StreamOutcome{service.OutcomeDisconnected}, f.metrics.outcomes)
}

func TestStream_PersistFailureEndsWithError(t *testing.T) {
	f := newStreamFixture(t, service.StreamEvent{Text: "lost"})
	f.orch = f.build(failingReplyRepo{f.repo})

	sink := &recordingSink{}
	p := f.run(t, ChatRequest{UserID: "u1", Message: "hi"}, sink)

	assert.Equal(t, []string{"conversation_id", "content", "error"}, sink.events)
	assert.Equal(t, "internal server error", sink.errMsg)
	assert.Len(t, f.repo.Messages(p.Conversation.ID), 1)
	assert.Equal(t, []service.StreamOutcome{service.OutcomeFailed}, f.metrics.outcomes)
}

func TestPrepare_DefaultModelFallback(t *testing.T) {
	repo := persistence.NewMemoryConversationRepository()
	limits := DefaultChatLimits()
	limits.DefaultModelID = 42
	orch := NewChatStreamOrchestrator(repo, persistence.NewMemoryModelCatalog(), &fakeExtractor{},
		&scriptedClient{}, &countingMetrics{}, limits, zap.NewNop())

	p, err := orch.Prepare(context.Background(), ChatRequest{UserID: "u1", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, uint(42), p.Conversation.AIModelID)
}
