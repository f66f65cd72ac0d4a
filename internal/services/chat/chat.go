// Package chat is the AgriPrice assistant: an OpenAI-compatible chat
// completion stream grounded on current prices and forecasts.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"agri-price/internal/apierr"
	"agri-price/internal/logger"
	"agri-price/internal/models"
	"agri-price/internal/store"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

const (
	priceContextSize      = 30
	predictionContextSize = 20
	maxMessages           = 40
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages       []Message  `json:"messages"`
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

type Service struct {
	client *openai.Client
	model  string
	store  *store.Store
	log    *logger.Logger
}

func NewService(cfg Config, st *store.Store, log *logger.Logger) *Service {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"))
	}
	client := openai.NewClient(opts...)
	return &Service{
		client: &client,
		model:  cfg.Model,
		store:  st,
		log:    log.With("service", "ChatService"),
	}
}

// Reply is an open completion stream. The first chunk has already been
// received when Open returns.
type Reply struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	svc     *Service
	convID  *uuid.UUID
	pending bool
	current openai.ChatCompletionChunk
	content strings.Builder
}

// Open validates the request, stores the user's message when a
// conversation is given and starts the upstream stream. Upstream 429 and
// 402 come back as rate_limited and quota_exhausted errors.
func (s *Service) Open(ctx context.Context, userID *uuid.UUID, req Request) (*Reply, error) {
	if len(req.Messages) == 0 {
		return nil, apierr.Invalid("messages are required")
	}
	if len(req.Messages) > maxMessages {
		req.Messages = req.Messages[len(req.Messages)-maxMessages:]
	}
	for _, m := range req.Messages {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			return nil, apierr.Invalid("message role must be user or assistant")
		}
	}

	if req.ConversationID != nil {
		if _, err := s.store.Conversation(ctx, userID, *req.ConversationID); err != nil {
			return nil, err
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Role == models.RoleUser {
			if _, err := s.store.AppendMessage(ctx, *req.ConversationID, last.Role, last.Content); err != nil {
				return nil, err
			}
		}
	}

	system, err := s.SystemPrompt(ctx)
	if err != nil {
		return nil, err
	}
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	msgs = append(msgs, openai.SystemMessage(system))
	for _, m := range req.Messages {
		if m.Role == models.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	stream := s.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(s.model),
		Messages: msgs,
	})
	r := &Reply{stream: stream, svc: s, convID: req.ConversationID}
	if stream.Next() {
		r.current = stream.Current()
		r.pending = true
		return r, nil
	}
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, mapUpstream(err)
	}
	return r, nil
}

// Next advances to the next chunk.
func (r *Reply) Next() bool {
	if r.pending {
		r.pending = false
		r.collect()
		return true
	}
	if !r.stream.Next() {
		return false
	}
	r.current = r.stream.Current()
	r.collect()
	return true
}

func (r *Reply) collect() {
	for _, ch := range r.current.Choices {
		r.content.WriteString(ch.Delta.Content)
	}
}

// Raw is the current chunk exactly as the gateway sent it.
func (r *Reply) Raw() string { return r.current.RawJSON() }

func (r *Reply) Err() error {
	if err := r.stream.Err(); err != nil {
		return mapUpstream(err)
	}
	return nil
}

func (r *Reply) Content() string { return r.content.String() }

// Close ends the stream and stores the assistant's answer when a
// conversation is attached.
func (r *Reply) Close(ctx context.Context) error {
	r.stream.Close()
	if r.convID == nil || r.content.Len() == 0 {
		return nil
	}
	_, err := r.svc.store.AppendMessage(ctx, *r.convID, models.RoleAssistant, r.content.String())
	return err
}

// SystemPrompt builds the assistant instructions around the newest prices
// and the nearest forecasts.
func (s *Service) SystemPrompt(ctx context.Context) (string, error) {
	prices, err := s.store.ListPricePoints(ctx, nil)
	if err != nil {
		return "", err
	}
	if len(prices) > priceContextSize {
		prices = prices[:priceContextSize]
	}
	preds, err := s.store.ListPredictions(ctx, nil)
	if err != nil {
		return "", err
	}
	if len(preds) > predictionContextSize {
		preds = preds[:predictionContextSize]
	}
	return buildPrompt(prices, preds), nil
}

func commodityName(c *models.Commodity) string {
	if c == nil {
		return "Unknown"
	}
	return c.Name
}

func buildPrompt(prices []models.PricePoint, preds []models.Prediction) string {
	priceLines := make([]string, 0, len(prices))
	for _, p := range prices {
		priceLines = append(priceLines, fmt.Sprintf("%s: ₹%.2f at %s", commodityName(p.Commodity), p.Price, p.MandiName))
	}
	priceContext := "No price data available"
	if len(priceLines) > 0 {
		priceContext = strings.Join(priceLines, "\n")
	}

	predLines := make([]string, 0, len(preds))
	for _, p := range preds {
		conf := 0.0
		if p.ConfidenceScore != nil {
			conf = *p.ConfidenceScore
		}
		predLines = append(predLines, fmt.Sprintf("%s: ₹%.2f predicted for %s (%.0f%% confidence)",
			commodityName(p.Commodity), p.PredictedPrice, p.PredictionDate.Format("2006-01-02"), conf*100))
	}
	predContext := "No predictions available"
	if len(predLines) > 0 {
		predContext = strings.Join(predLines, "\n")
	}

	return fmt.Sprintf(systemTemplate, priceContext, predContext)
}

const systemTemplate = `You are AgriPrice AI, an intelligent agricultural market assistant for Indian farmers and traders. You help users with:

1. **Current Market Prices**: Provide real-time commodity prices from various mandis across India
2. **Price Predictions**: Share LSTM model predictions with confidence scores
3. **Market Insights**: Offer advice on when to buy/sell based on trends
4. **Storage Tips**: Guidance on storing vegetables to maximize shelf life
5. **Arbitrage Opportunities**: Identify price differences between mandis

**Current Market Data:**
%s

**Price Predictions:**
%s

**Guidelines:**
- Be helpful, concise, and farmer-friendly
- Use simple language, avoiding jargon
- Always quote prices in Indian Rupees (₹)
- When uncertain, acknowledge limitations
- Encourage users to verify critical decisions with local market experts
- Support Hindi/English code-switching naturally
- Format responses with emojis for better readability
- Use markdown tables when comparing multiple prices`

func mapUpstream(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return apierr.New(http.StatusTooManyRequests, apierr.CodeRateLimited,
				errors.New("Rate limit exceeded. Please try again in a moment."))
		case http.StatusPaymentRequired:
			return apierr.New(http.StatusPaymentRequired, apierr.CodeQuotaExhausted,
				errors.New("AI service unavailable. Please try again later."))
		}
		return apierr.FromUpstream(apiErr.StatusCode, fmt.Errorf("Failed to get AI response: %w", err))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apierr.New(http.StatusBadGateway, apierr.CodeUpstream, fmt.Errorf("Failed to get AI response: %w", err))
}
