package usecase

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/persistence"
)

// scriptedClient replays fixed events and records which entry point ran.
type scriptedClient struct {
	mu        sync.Mutex
	events    []service.StreamEvent
	usage     service.Usage
	withFiles bool
	lastReq   service.GenerationRequest

	generateText string
	generateErr  error
}

func (c *scriptedClient) Generate(ctx context.Context, message string, history []entity.HistoryEntry) (*service.GenerationResult, error) {
	if c.generateErr != nil {
		return nil, c.generateErr
	}
	return &service.GenerationResult{Text: c.generateText, Usage: c.usage}, nil
}

func (c *scriptedClient) Stream(ctx context.Context, req service.GenerationRequest) service.GenerationStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastReq = req
	return service.NewStaticStream(c.usage, c.events...)
}

func (c *scriptedClient) StreamWithFiles(ctx context.Context, req service.GenerationRequest) service.GenerationStream {
	c.mu.Lock()
	c.withFiles = true
	c.mu.Unlock()
	return c.Stream(ctx, req)
}

// recordingSink collects events; failAfter > 0 makes the n-th content
// write fail as if the client disconnected.
type recordingSink struct {
	events    []string
	content   []string
	grounding []*entity.GroundingResult
	convID    uint
	errMsg    string
	failAfter int
}

func (s *recordingSink) ConversationID(id uint) error {
	s.convID = id
	s.events = append(s.events, "conversation_id")
	return nil
}

func (s *recordingSink) Content(delta string) error {
	if s.failAfter > 0 && len(s.content)+1 >= s.failAfter {
		return stderrors.New("broken pipe")
	}
	s.content = append(s.content, delta)
	s.events = append(s.events, "content")
	return nil
}

func (s *recordingSink) Grounding(g *entity.GroundingResult) error {
	s.grounding = append(s.grounding, g)
	s.events = append(s.events, "grounding")
	return nil
}

func (s *recordingSink) Done() error {
	s.events = append(s.events, "done")
	return nil
}

func (s *recordingSink) Error(message string) error {
	s.errMsg = message
	s.events = append(s.events, "error")
	return nil
}

type fakeExtractor struct {
	failing map[string]bool
}

func (e *fakeExtractor) IsSupported(filename string) bool {
	return filename != "binary.exe"
}

func (e *fakeExtractor) Extract(ctx context.Context, up entity.Upload) (entity.ExtractedFile, error) {
	if e.failing[up.Filename] {
		return entity.ExtractedFile{}, &entity.FileExtractionError{Filename: up.Filename, Err: stderrors.New("corrupt")}
	}
	return entity.ExtractedFile{Filename: up.Filename, Kind: entity.FileKindText, Content: string(up.Data)}, nil
}

type countingMetrics struct {
	started   int
	outcomes  []service.StreamOutcome
	upstream  []service.UpstreamErrorKind
	extracted int
	failed    int
	tokensIn  int
	tokensOut int
}

func (m *countingMetrics) StreamStarted() { m.started++ }
func (m *countingMetrics) StreamFinished(o service.StreamOutcome, _ time.Duration) {
	m.outcomes = append(m.outcomes, o)
}
func (m *countingMetrics) UpstreamError(k service.UpstreamErrorKind) {
	m.upstream = append(m.upstream, k)
}
func (m *countingMetrics) FileExtracted(ok bool) {
	if ok {
		m.extracted++
	} else {
		m.failed++
	}
}
func (m *countingMetrics) TokensUsed(in, out int) {
	m.tokensIn += in
	m.tokensOut += out
}

// failingReplyRepo rejects assistant messages.
type failingReplyRepo struct {
	*persistence.MemoryConversationRepository
}

func (r failingReplyRepo) AppendMessage(ctx context.Context, msg *entity.Message) error {
	if msg.Role == entity.RoleAssistant {
		return stderrors.New("disk full")
	}
	return r.MemoryConversationRepository.AppendMessage(ctx, msg)
}

func activeModel(id uint, modelID string, sort int) *entity.AIModel {
	return &entity.AIModel{ID: id, ModelID: modelID, Name: modelID, IsActive: true, SortOrder: sort}
}

func time1() time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}
