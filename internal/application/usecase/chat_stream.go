package usecase

import (
	"context"
	stderrors "errors"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/safego"
)

// EventSink receives the events of one chat stream in order. Every method
// must flush before returning; an error means the client is gone.
type EventSink interface {
	ConversationID(id uint) error
	Content(delta string) error
	Grounding(g *entity.GroundingResult) error
	Done() error
	Error(message string) error
}

// FileExtractor turns uploads into model input.
type FileExtractor interface {
	IsSupported(filename string) bool
	Extract(ctx context.Context, up entity.Upload) (entity.ExtractedFile, error)
}

// StreamMetrics observes stream outcomes.
type StreamMetrics interface {
	StreamStarted()
	StreamFinished(outcome service.StreamOutcome, d time.Duration)
	UpstreamError(kind service.UpstreamErrorKind)
	FileExtracted(ok bool)
	TokensUsed(input, output int)
}

// PreparedStream is a request that passed validation, has its conversation
// resolved and its user message stored, and is ready to stream.
type PreparedStream struct {
	Conversation *entity.Conversation
	UserMessage  *entity.Message

	generation service.GenerationRequest
	machine    *service.StateMachine
	started    time.Time
}

// Files returns the attachments that will be sent to the model.
func (p *PreparedStream) Files() []entity.ExtractedFile { return p.generation.Files }

// ChatStreamOrchestrator drives one streaming chat turn from request to
// stored assistant message.
type ChatStreamOrchestrator struct {
	resolver  *conversationResolver
	repo      repository.ConversationRepository
	extractor FileExtractor
	client    service.GenerationClient
	metrics   StreamMetrics
	limits    ChatLimits
	logger    *zap.Logger
}

// NewChatStreamOrchestrator 创建流式对话编排器
func NewChatStreamOrchestrator(
	repo repository.ConversationRepository,
	catalog repository.ModelCatalog,
	extractor FileExtractor,
	client service.GenerationClient,
	metrics StreamMetrics,
	limits ChatLimits,
	logger *zap.Logger,
) *ChatStreamOrchestrator {
	logger = logger.With(zap.String("component", "chat-stream"))
	return &ChatStreamOrchestrator{
		resolver:  &conversationResolver{conversations: repo, catalog: catalog, limits: limits, logger: logger},
		repo:      repo,
		extractor: extractor,
		client:    client,
		metrics:   metrics,
		limits:    limits,
		logger:    logger,
	}
}

// Prepare runs everything that must succeed before the event stream opens:
// validation, conversation resolution, file extraction and storing the user
// message. Its errors are reported as a plain response, not as events.
func (o *ChatStreamOrchestrator) Prepare(ctx context.Context, req ChatRequest) (*PreparedStream, error) {
	sm := service.NewStateMachine(o.logger)

	if err := o.limits.validate(&req); err != nil {
		_ = sm.Transition(service.StateFailed)
		return nil, err
	}

	conv, err := o.resolver.resolve(ctx, &req)
	if err != nil {
		_ = sm.Transition(service.StateFailed)
		return nil, err
	}
	sm.SetConversation(conv.ID)
	if err := sm.Transition(service.StateConversationResolved); err != nil {
		return nil, errors.NewInternalErrorWithCause("stream state", err)
	}

	files, names := o.extractFiles(ctx, req.Uploads)

	userMsg, err := entity.NewMessage(conv.ID, entity.RoleUser, appendManifest(req.Message, names), nil)
	if err != nil {
		_ = sm.Transition(service.StateFailed)
		return nil, errors.NewInvalidInputError(err.Error())
	}
	if err := o.repo.AppendMessage(ctx, userMsg); err != nil {
		_ = sm.Transition(service.StateFailed)
		o.logger.Error("Failed to save user message", zap.Uint("conversation_id", conv.ID), zap.Error(err))
		return nil, err
	}
	if err := sm.Transition(service.StateUserMessagePersisted); err != nil {
		return nil, errors.NewInternalErrorWithCause("stream state", err)
	}

	return &PreparedStream{
		Conversation: conv,
		UserMessage:  userMsg,
		generation: service.GenerationRequest{
			Message:      req.Message,
			History:      req.History,
			SystemPrompt: req.SystemPrompt,
			UseGrounding: req.UseGrounding,
			Files:        files,
		},
		machine: sm,
		started: time.Now(),
	}, nil
}

// extractFiles skips unsupported uploads silently and failed ones with a
// warning. It returns the extracted files and the names to list in the
// stored message.
func (o *ChatStreamOrchestrator) extractFiles(ctx context.Context, uploads []entity.Upload) ([]entity.ExtractedFile, []string) {
	var (
		files []entity.ExtractedFile
		names []string
	)
	for _, up := range uploads {
		if !o.extractor.IsSupported(up.Filename) {
			o.logger.Debug("Skip unsupported attachment", zap.String("filename", up.Filename))
			continue
		}
		f, err := o.extractor.Extract(ctx, up)
		o.metrics.FileExtracted(err == nil)
		if err != nil {
			o.logger.Warn("File extraction failed",
				zap.String("filename", up.Filename),
				service.TraceField(ctx),
				zap.Error(err),
			)
			continue
		}
		files = append(files, f)
		names = append(names, up.Filename)
	}
	return files, names
}

// Stream relays the generation to sink and stores the assistant message.
// The first event is always the conversation id; the last is exactly one of
// Done or Error unless the client went away. Upstream failures arrive as
// content and end with Done.
func (o *ChatStreamOrchestrator) Stream(ctx context.Context, p *PreparedStream, sink EventSink) error {
	o.metrics.StreamStarted()
	outcome, err := o.run(ctx, p, sink)
	o.metrics.StreamFinished(outcome, time.Since(p.started))
	return err
}

func (o *ChatStreamOrchestrator) run(ctx context.Context, p *PreparedStream, sink EventSink) (outcome service.StreamOutcome, err error) {
	sm := p.machine
	conv := p.Conversation
	outcome = service.OutcomeFailed

	defer func() {
		if err != nil && !sm.IsTerminal() {
			_ = sm.Transition(service.StateFailed)
			_ = sink.Error(errors.PublicMessage(err))
		}
	}()
	defer safego.Recover(o.logger, "chat-stream", &err)

	if err := sm.Transition(service.StateStreaming); err != nil {
		return outcome, errors.NewInternalErrorWithCause("stream state", err)
	}

	if err := sink.ConversationID(conv.ID); err != nil {
		_ = sm.Transition(service.StateFailed)
		o.logger.Info("Client gone before streaming", zap.Uint("conversation_id", conv.ID), service.TraceField(ctx))
		return service.OutcomeDisconnected, nil
	}

	var stream service.GenerationStream
	if len(p.generation.Files) > 0 {
		stream = o.client.StreamWithFiles(ctx, p.generation)
	} else {
		stream = o.client.Stream(ctx, p.generation)
	}
	defer stream.Close()

	var (
		text      strings.Builder
		grounding service.GroundingAccumulator
		failure   *service.UpstreamGenerationError
		gone      bool
	)

	for !gone {
		ev, recvErr := stream.Recv()
		if stderrors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			uerr := service.NewUpstreamError("", 0, recvErr.Error(), recvErr)
			ev = service.StreamEvent{Text: uerr.UserMessage(), Failure: uerr}
		}
		if ev.Failure != nil {
			// 客户端已断开: 取消产生的错误文本不是回复
			if ev.Failure.Kind == service.ErrKindCancelled || ctx.Err() != nil {
				gone = true
				break
			}
			failure = ev.Failure
			o.metrics.UpstreamError(failure.Kind)
		}

		if ev.Text != "" {
			text.WriteString(ev.Text)
			sm.RecordEvent(len(ev.Text))
			gone = sink.Content(ev.Text) != nil
		}
		if !gone && ev.Grounding != nil && grounding.Observe(ev.Grounding) {
			gone = sink.Grounding(grounding.Latest()) != nil
		}
		if failure != nil {
			break
		}
	}
	if ctx.Err() != nil {
		gone = true
	}

	if gone && text.Len() == 0 {
		_ = sm.Transition(service.StateFailed)
		o.logger.Info("Client disconnected before any content", zap.Uint("conversation_id", conv.ID), service.TraceField(ctx))
		return service.OutcomeDisconnected, nil
	}

	// 客户端断开时仍保存已累积的内容
	persistCtx := context.WithoutCancel(ctx)
	metadata := grounding.Latest().Metadata()
	if failure != nil {
		if metadata == nil {
			metadata = &entity.MessageMetadata{}
		}
		metadata.GenerationError = failure.Error()
	}

	usage := stream.Usage()
	if err := o.persistReply(persistCtx, conv, text.String(), metadata, usage); err != nil {
		_ = sm.Transition(service.StateFailed)
		o.logger.Error("Failed to persist assistant message",
			zap.Uint("conversation_id", conv.ID),
			zap.Int("bytes", text.Len()),
			service.TraceField(ctx),
			zap.Error(err),
		)
		if !gone {
			_ = sink.Error(errors.PublicMessage(err))
		}
		return service.OutcomeFailed, nil
	}
	o.metrics.TokensUsed(usage.InputTokens, usage.OutputTokens)

	snap := sm.Snapshot()
	if gone {
		_ = sm.Transition(service.StateFailed)
		o.logger.Info("Client disconnected, partial reply saved",
			zap.Uint("conversation_id", conv.ID),
			zap.Int("bytes", snap.Bytes),
			service.TraceField(ctx),
		)
		return service.OutcomeDisconnected, nil
	}

	if err := sm.Transition(service.StateCompleted); err != nil {
		return outcome, errors.NewInternalErrorWithCause("stream state", err)
	}
	o.logger.Info("Chat stream completed",
		zap.Uint("conversation_id", conv.ID),
		zap.Int("events", snap.Events),
		zap.Int("bytes", snap.Bytes),
		zap.Bool("grounding", !grounding.Latest().IsEmpty()),
		zap.Bool("upstream_failed", failure != nil),
		zap.Duration("elapsed", snap.Elapsed),
		service.TraceField(ctx),
	)
	_ = sink.Done()

	if failure != nil {
		return service.OutcomeFailed, nil
	}
	return service.OutcomeCompleted, nil
}

func (o *ChatStreamOrchestrator) persistReply(ctx context.Context, conv *entity.Conversation, text string, metadata *entity.MessageMetadata, usage service.Usage) error {
	msg, err := entity.NewMessage(conv.ID, entity.RoleAssistant, text, metadata)
	if err != nil {
		return errors.NewInternalErrorWithCause("build assistant message", err)
	}
	modelID := conv.AIModelID
	msg.AIModelID = &modelID
	msg.WithUsage(usage.InputTokens, usage.OutputTokens)

	if err := o.repo.AppendMessage(ctx, msg); err != nil {
		return err
	}
	return o.repo.Touch(ctx, conv.ID, time.Now())
}
