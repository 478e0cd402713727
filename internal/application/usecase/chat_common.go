package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/repository"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

// AttachmentManifestLabel precedes the list of attached file names stored
// with a user message.
const AttachmentManifestLabel = "📎 添付ファイル: "

// ChatLimits bounds the accepted chat input.
type ChatLimits struct {
	MaxMessageLength      int
	MaxSystemPromptLength int
	MaxFileSize           int64
	TitleLength           int
	// DefaultModelID is used when the catalog has no active model.
	DefaultModelID uint
}

// DefaultChatLimits 默认限制
func DefaultChatLimits() ChatLimits {
	return ChatLimits{
		MaxMessageLength:      10000,
		MaxSystemPromptLength: 10000,
		MaxFileSize:           10 << 20,
		TitleLength:           entity.DefaultTitleLength,
		DefaultModelID:        1,
	}
}

// ChatRequest is one inbound chat turn.
type ChatRequest struct {
	UserID         string
	Message        string
	ConversationID uint // 0 starts a new conversation
	History        []entity.HistoryEntry
	SystemPrompt   string
	UseGrounding   bool
	Uploads        []entity.Upload
}

// validate rejects malformed input before any side effect.
func (l ChatLimits) validate(req *ChatRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return errors.NewUnauthorizedError("missing user identity")
	}
	if strings.TrimSpace(req.Message) == "" {
		return errors.NewInvalidInputError("message is required")
	}
	if n := utf8.RuneCountInString(req.Message); n > l.MaxMessageLength {
		return errors.NewInvalidInputErrorf("message must not exceed %d characters", l.MaxMessageLength)
	}
	if utf8.RuneCountInString(req.SystemPrompt) > l.MaxSystemPromptLength {
		return errors.NewInvalidInputErrorf("system_prompt must not exceed %d characters", l.MaxSystemPromptLength)
	}
	for _, up := range req.Uploads {
		if up.Size() > l.MaxFileSize {
			return errors.NewInvalidInputErrorf("file %s exceeds %d bytes", up.Filename, l.MaxFileSize)
		}
	}
	return nil
}

// validateHistory applies the strict entry rules of the non-streaming
// endpoint. Streaming requests take history as given and let BuildHistory
// map unknown roles to model turns.
func validateHistory(history []entity.HistoryEntry) error {
	for i, h := range history {
		if h.Role != string(entity.RoleUser) && h.Role != string(entity.RoleAssistant) {
			return errors.NewInvalidInputErrorf("history.%d.role must be user or assistant", i)
		}
		if h.Content == "" {
			return errors.NewInvalidInputErrorf("history.%d.content is required", i)
		}
	}
	return nil
}

// conversationResolver finds the requested conversation or opens a new one.
type conversationResolver struct {
	conversations repository.ConversationRepository
	catalog       repository.ModelCatalog
	limits        ChatLimits
	logger        *zap.Logger
}

// resolve returns the caller's conversation id or creates a conversation
// titled after message. A foreign or unknown id is NOT_FOUND, never a new
// conversation.
func (r *conversationResolver) resolve(ctx context.Context, req *ChatRequest) (*entity.Conversation, error) {
	if req.ConversationID != 0 {
		return r.conversations.FindForUser(ctx, req.UserID, req.ConversationID)
	}

	conv, err := entity.NewConversation(
		req.UserID,
		r.defaultModelID(ctx),
		entity.DeriveTitle(req.Message, r.limits.TitleLength),
		time.Now(),
	)
	if err != nil {
		return nil, errors.NewInvalidInputError(err.Error())
	}
	if err := r.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	r.logger.Info("Conversation created",
		zap.Uint("conversation_id", conv.ID),
		zap.String("user_id", conv.UserID),
		zap.Uint("ai_model_id", conv.AIModelID),
	)
	return conv, nil
}

func (r *conversationResolver) defaultModelID(ctx context.Context) uint {
	model, err := r.catalog.DefaultModel(ctx)
	if err != nil {
		if !errors.IsNotFound(err) {
			r.logger.Warn("Default model lookup failed, using fallback",
				zap.Uint("fallback", r.limits.DefaultModelID), zap.Error(err))
		}
		return r.limits.DefaultModelID
	}
	return model.ID
}

// appendManifest adds the display-only list of attached files to content.
func appendManifest(content string, filenames []string) string {
	if len(filenames) == 0 {
		return content
	}
	return fmt.Sprintf("%s\n\n%s%s", content, AttachmentManifestLabel, strings.Join(filenames, ", "))
}
