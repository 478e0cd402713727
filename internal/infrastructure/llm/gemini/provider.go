package gemini

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
	llm "github.com/ngoclaw/ngoclaw/chatgateway/internal/infrastructure/llm"
)

const (
	// DefaultBaseURL is the public Gemini endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	// DefaultModel is used when the config names none.
	DefaultModel = "gemini-2.0-flash"
	// FileLabel heads each extracted document appended to the message.
	FileLabel = "【ファイル: %s】"

	defaultIdleTimeout = 60 * time.Second
)

func init() {
	llm.RegisterFactory("gemini", func(cfg llm.ProviderConfig, logger *zap.Logger) service.GenerationClient {
		return New(cfg, logger)
	})
}

// Provider implements service.GenerationClient on the Gemini REST API.
type Provider struct {
	baseURL     string
	apiKey      string
	model       string
	idleTimeout time.Duration
	client      *http.Client
	logger      *zap.Logger
}

// New creates a Google Gemini API provider.
func New(cfg llm.ProviderConfig, logger *zap.Logger) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := stripPrefix(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = defaultIdleTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		model:       model,
		idleTimeout: idle,
		client:      &http.Client{Transport: transport},
		logger:      logger.With(zap.String("provider", "gemini"), zap.String("model", model)),
	}
}

var _ service.GenerationClient = (*Provider)(nil)

// Model returns the model id every call is sent to.
func (p *Provider) Model() string { return p.model }

// Generate implements service.GenerationClient (non-streaming).
func (p *Provider) Generate(ctx context.Context, message string, history []entity.HistoryEntry) (*service.GenerationResult, error) {
	apiReq := &Request{Contents: chatContents(service.BuildHistory(history, ""), message)}

	resp, err := p.post(ctx, "generateContent", nil, apiReq)
	if err != nil {
		p.logger.Error("Gemini generate failed", zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		uerr := service.NewUpstreamError(p.model, 0, "read response", err)
		p.logger.Error("Gemini generate failed", zap.Error(uerr))
		return nil, uerr
	}

	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		uerr := service.NewUpstreamError(p.model, 0, "parse response", err)
		p.logger.Error("Gemini generate failed", zap.Error(uerr))
		return nil, uerr
	}
	if uerr := p.responseError(&apiResp); uerr != nil {
		p.logger.Error("Gemini generate failed", zap.Error(uerr))
		return nil, uerr
	}

	result := &service.GenerationResult{
		Text:  apiResp.Candidates[0].Text(),
		Model: p.model,
		Usage: usageOf(apiResp.UsageMetadata),
	}
	if apiResp.ModelVersion != "" {
		result.Model = apiResp.ModelVersion
	}
	return result, nil
}

// Stream implements service.GenerationClient with Gemini SSE streaming.
func (p *Provider) Stream(ctx context.Context, req service.GenerationRequest) service.GenerationStream {
	turns := service.BuildHistory(req.History, req.SystemPrompt)
	return p.stream(ctx, &Request{
		Contents: chatContents(turns, req.Message),
		Tools:    groundingTools(req.UseGrounding),
	})
}

// StreamWithFiles implements service.GenerationClient. Extracted documents
// are appended to the message text. With any image attached the request is
// one multi-part user turn and carries no history or system prompt.
func (p *Provider) StreamWithFiles(ctx context.Context, req service.GenerationRequest) service.GenerationStream {
	text := composeMessage(req.Message, req.Files)

	if !req.HasImages() {
		turns := service.BuildHistory(req.History, req.SystemPrompt)
		return p.stream(ctx, &Request{
			Contents: chatContents(turns, text),
			Tools:    groundingTools(req.UseGrounding),
		})
	}

	if len(req.History) > 0 || req.SystemPrompt != "" {
		p.logger.Debug("Image request sent without history",
			zap.Int("history", len(req.History)),
			zap.Bool("system_prompt", req.SystemPrompt != ""),
		)
	}

	parts := []Part{{Text: text}}
	for _, f := range req.Files {
		if f.IsImage() {
			parts = append(parts, Part{InlineData: &Blob{
				MimeType: imageMIMEType(f.MIMEType),
				Data:     f.Content,
			}})
		}
	}
	return p.stream(ctx, &Request{
		Contents: []Content{{Role: string(entity.TurnUser), Parts: parts}},
		Tools:    groundingTools(req.UseGrounding),
	})
}

// --- Internal ---

func (p *Provider) stream(ctx context.Context, apiReq *Request) service.GenerationStream {
	resp, err := p.post(ctx, "streamGenerateContent", url.Values{"alt": {"sse"}}, apiReq)
	if err != nil {
		p.logger.Error("Gemini stream failed to start", zap.Error(err))
		return service.NewFailedStream(service.NewUpstreamError(p.model, 0, err.Error(), err))
	}
	return newSSEStream(ctx, resp.Body, p.model, p.idleTimeout, p.logger)
}

// post sends apiReq to the model method and returns the response when the
// status is 200. Any other outcome is an *service.UpstreamGenerationError.
func (p *Provider) post(ctx context.Context, method string, query url.Values, apiReq *Request) (*http.Response, error) {
	if p.apiKey == "" {
		return nil, &service.UpstreamGenerationError{Kind: service.ErrKindAuth, Message: "Gemini API key is not configured", Model: p.model}
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, service.NewUpstreamError(p.model, 0, "marshal request", err)
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("key", p.apiKey)
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s?%s", p.baseURL, p.model, method, query.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, service.NewUpstreamError(p.model, 0, "create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if query.Get("alt") == "sse" {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, service.NewUpstreamError(p.model, 0, "HTTP request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, service.NewUpstreamError(p.model, resp.StatusCode, errorMessage(resp.StatusCode, respBody), nil)
	}
	return resp, nil
}

// responseError reports a response that carries no answer.
func (p *Provider) responseError(r *Response) *service.UpstreamGenerationError {
	switch {
	case r.Error != nil:
		return service.NewUpstreamError(p.model, r.Error.Code, r.Error.Message, nil)
	case r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "":
		return &service.UpstreamGenerationError{
			Kind:    service.ErrKindBadRequest,
			Message: "prompt blocked: " + r.PromptFeedback.BlockReason,
			Model:   p.model,
		}
	case len(r.Candidates) == 0:
		return &service.UpstreamGenerationError{Kind: service.ErrKindTransient, Message: "empty Gemini response: no candidates", Model: p.model}
	}
	return nil
}

func chatContents(turns []entity.Turn, message string) []Content {
	contents := make([]Content, 0, len(turns)+1)
	for _, t := range turns {
		contents = append(contents, Content{Role: string(t.Role), Parts: []Part{{Text: t.Text}}})
	}
	return append(contents, Content{Role: string(entity.TurnUser), Parts: []Part{{Text: message}}})
}

func groundingTools(enabled bool) []Tool {
	if !enabled {
		return nil
	}
	return []Tool{{GoogleSearch: &GoogleSearch{}}}
}

// composeMessage appends each extracted document to the message as a
// labeled block.
func composeMessage(message string, files []entity.ExtractedFile) string {
	var b strings.Builder
	b.WriteString(message)
	for _, f := range files {
		if f.Kind != entity.FileKindText {
			continue
		}
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf(FileLabel, f.Filename))
		b.WriteByte('\n')
		b.WriteString(f.Content)
	}
	return b.String()
}

// imageMIMEType narrows a sniffed type to one the API accepts inline.
func imageMIMEType(mime string) string {
	switch mime {
	case "image/png", "image/webp", "image/jpeg":
		return mime
	default:
		return "image/jpeg"
	}
}

func errorMessage(status int, body []byte) string {
	var wrapped struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Error != nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}
	if len(body) > 0 {
		return fmt.Sprintf("Gemini API error %d: %s", status, strings.TrimSpace(string(body)))
	}
	return fmt.Sprintf("Gemini API error %d", status)
}

func usageOf(u *UsageMetadata) service.Usage {
	if u == nil {
		return service.Usage{}
	}
	return service.Usage{InputTokens: u.PromptTokenCount, OutputTokens: u.CandidatesTokenCount}
}

func stripPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}
