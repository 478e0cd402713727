package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

// ChatReply is the answer of a non-streaming chat turn.
type ChatReply struct {
	Message        *entity.Message
	ConversationID uint
}

// ChatUseCase answers a chat turn in one request/response round trip.
type ChatUseCase struct {
	resolver *conversationResolver
	repo     repository.ConversationRepository
	client   service.GenerationClient
	metrics  StreamMetrics
	limits   ChatLimits
	logger   *zap.Logger
}

// NewChatUseCase 创建非流式对话用例
func NewChatUseCase(
	repo repository.ConversationRepository,
	catalog repository.ModelCatalog,
	client service.GenerationClient,
	metrics StreamMetrics,
	limits ChatLimits,
	logger *zap.Logger,
) *ChatUseCase {
	logger = logger.With(zap.String("component", "chat"))
	return &ChatUseCase{
		resolver: &conversationResolver{conversations: repo, catalog: catalog, limits: limits, logger: logger},
		repo:     repo,
		client:   client,
		metrics:  metrics,
		limits:   limits,
		logger:   logger,
	}
}

// Send stores the user message, calls the model and stores its answer.
// Upload fields of req are ignored. An upstream failure is returned as
// *service.UpstreamGenerationError after the user message was stored.
func (uc *ChatUseCase) Send(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	req.Uploads = nil
	if err := uc.limits.validate(&req); err != nil {
		return nil, err
	}
	if err := validateHistory(req.History); err != nil {
		return nil, err
	}

	conv, err := uc.resolver.resolve(ctx, &req)
	if err != nil {
		return nil, err
	}

	userMsg, err := entity.NewMessage(conv.ID, entity.RoleUser, req.Message, nil)
	if err != nil {
		return nil, errors.NewInvalidInputError(err.Error())
	}
	if err := uc.repo.AppendMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	result, err := uc.client.Generate(ctx, req.Message, req.History)
	if err != nil {
		if ue, ok := service.AsUpstreamError(err); ok {
			uc.metrics.UpstreamError(ue.Kind)
		}
		uc.logger.Error("Generation failed",
			zap.Uint("conversation_id", conv.ID),
			service.TraceField(ctx),
			zap.Error(err),
		)
		return nil, err
	}

	reply, err := entity.NewMessage(conv.ID, entity.RoleAssistant, result.Text, nil)
	if err != nil {
		return nil, errors.NewInternalErrorWithCause("build assistant message", err)
	}
	modelID := conv.AIModelID
	reply.AIModelID = &modelID
	reply.WithUsage(result.Usage.InputTokens, result.Usage.OutputTokens)

	if err := uc.repo.AppendMessage(ctx, reply); err != nil {
		return nil, err
	}
	if err := uc.repo.Touch(ctx, conv.ID, time.Now()); err != nil {
		return nil, err
	}
	uc.metrics.TokensUsed(result.Usage.InputTokens, result.Usage.OutputTokens)

	return &ChatReply{Message: reply, ConversationID: conv.ID}, nil
}
