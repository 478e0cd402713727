package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/application/usecase"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
	"github.com/ngoclaw/ngoclaw/chatgateway/pkg/errors"
)

// UploadLimits bounds multipart chat requests.
type UploadLimits struct {
	// MaxFileSize is checked against each part before it is read.
	MaxFileSize int64
	// MaxRequestSize caps the whole request body.
	MaxRequestSize int64
	// MaxMemory is the in-memory share of a parsed form; larger parts
	// spill to temporary files.
	MaxMemory int64
}

func (l UploadLimits) withDefaults() UploadLimits {
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = 10 << 20
	}
	if l.MaxRequestSize <= 0 {
		l.MaxRequestSize = 64 << 20
	}
	if l.MaxMemory <= 0 {
		l.MaxMemory = 32 << 20
	}
	return l
}

// ChatHandler 对话 API 处理器
type ChatHandler struct {
	chat    *usecase.ChatUseCase
	stream  *usecase.ChatStreamOrchestrator
	uploads UploadLimits
	logger  *zap.Logger
}

// NewChatHandler 创建对话处理器
func NewChatHandler(chat *usecase.ChatUseCase, stream *usecase.ChatStreamOrchestrator, uploads UploadLimits, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chat:    chat,
		stream:  stream,
		uploads: uploads.withDefaults(),
		logger:  logger.With(zap.String("handler", "chat")),
	}
}

// ChatRequest is the JSON body of the chat endpoints.
type ChatRequest struct {
	Message        string                `json:"message"`
	ConversationID uint                  `json:"conversation_id"`
	History        []entity.HistoryEntry `json:"history"`
	SystemPrompt   string                `json:"system_prompt"`
	UseGrounding   bool                  `json:"use_grounding"`
}

func (r ChatRequest) toUseCase(userID string) usecase.ChatRequest {
	return usecase.ChatRequest{
		UserID:         userID,
		Message:        r.Message,
		ConversationID: r.ConversationID,
		History:        r.History,
		SystemPrompt:   r.SystemPrompt,
		UseGrounding:   r.UseGrounding,
	}
}

// Chat answers in a single JSON response.
// POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	reply, err := h.chat.Send(c.Request.Context(), req.toUseCase(UserID(c)))
	if err != nil {
		if ue, ok := service.AsUpstreamError(err); ok {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": ue.Message})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"message":         reply.Message.Content,
		"conversation_id": reply.ConversationID,
	})
}

// Stream relays the answer as server-sent events.
// POST /api/chat/stream
func (h *ChatHandler) Stream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	h.serveStream(c, req.toUseCase(UserID(c)))
}

// StreamWithFiles is Stream for multipart requests carrying attachments.
// POST /api/chat/stream-with-files
func (h *ChatHandler) StreamWithFiles(c *gin.Context) {
	if c.Request.ContentLength > h.uploads.MaxRequestSize {
		respondTooLarge(c, h.uploads.MaxRequestSize)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploads.MaxRequestSize)
	if err := c.Request.ParseMultipartForm(h.uploads.MaxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			respondTooLarge(c, h.uploads.MaxRequestSize)
			return
		}
		respondError(c, errors.NewInvalidInputError("invalid multipart form"))
		return
	}

	req := usecase.ChatRequest{
		UserID:       UserID(c),
		Message:      c.PostForm("message"),
		SystemPrompt: c.PostForm("system_prompt"),
		UseGrounding: parseLenientBool(c.PostForm("use_grounding")),
		History:      parseHistory(c.PostForm("history")),
	}
	if raw := strings.TrimSpace(c.PostForm("conversation_id")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondError(c, errors.NewInvalidInputError("conversation_id must be a number"))
			return
		}
		req.ConversationID = uint(id)
	}

	uploads, err := readUploads(c.Request.MultipartForm, h.uploads.MaxFileSize)
	if err != nil {
		respondError(c, err)
		return
	}
	req.Uploads = uploads

	h.serveStream(c, req)
}

func (h *ChatHandler) serveStream(c *gin.Context, req usecase.ChatRequest) {
	ctx := c.Request.Context()

	prepared, err := h.stream.Prepare(ctx, req)
	if err != nil {
		respondError(c, err)
		return
	}

	sink := newSSEWriter(c)
	if err := h.stream.Stream(ctx, prepared, sink); err != nil {
		h.logger.Error("Chat stream aborted",
			zap.Uint("conversation_id", prepared.Conversation.ID),
			zap.Error(err),
		)
	}
}

// parseHistory decodes the JSON-encoded history field; anything that is not
// a JSON array of entries counts as no history.
func parseHistory(raw string) []entity.HistoryEntry {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var history []entity.HistoryEntry
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil
	}
	return history
}

// parseLenientBool accepts the usual form spellings of true.
func parseLenientBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// readUploads loads every attached file. A part over maxFileSize is
// rejected from its header size before it is opened.
func readUploads(form *multipart.Form, maxFileSize int64) ([]entity.Upload, error) {
	if form == nil {
		return nil, nil
	}
	var uploads []entity.Upload
	for _, key := range []string{"files[]", "files"} {
		for _, fh := range form.File[key] {
			if fh.Size > maxFileSize {
				return nil, errors.NewInvalidInputErrorf("file %s exceeds %d bytes", fh.Filename, maxFileSize)
			}
			data, err := readFileHeader(fh, maxFileSize)
			if err != nil {
				return nil, errors.NewInvalidInputError(err.Error())
			}
			uploads = append(uploads, entity.Upload{Filename: fh.Filename, Data: data})
		}
	}
	return uploads, nil
}

func readFileHeader(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file %s exceeds %d bytes", fh.Filename, limit)
	}
	return data, nil
}

func respondTooLarge(c *gin.Context, limit int64) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
		"success": false,
		"error":   fmt.Sprintf("request body exceeds %d bytes", limit),
	})
}
