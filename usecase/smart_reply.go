package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/domain/repositories"
	"github.com/satriahrh/omnichat/server/internal/metrics"
)

// SmartReplyPipeline produces one fresh SmartReplySet per appended message,
// for the speaker who answers it
type SmartReplyPipeline struct {
	llm    repositories.LanguageModel
	logger *zap.Logger
}

// replyRequest is everything a suggestion call needs, captured at append time
type replyRequest struct {
	ForMessageID string
	Language     string
	History      []entities.Message
}

// replyResult is the outcome of one suggestion call
type replyResult struct {
	replyRequest
	Replies []string
	Err     error
}

// NewSmartReplyPipeline creates a new pipeline
func NewSmartReplyPipeline(llm repositories.LanguageModel, logger *zap.Logger) *SmartReplyPipeline {
	return &SmartReplyPipeline{llm: llm, logger: logger}
}

// begin puts state into the loading state for msg and returns the request to run
func (p *SmartReplyPipeline) begin(state *entities.ConversationState, msg entities.Message) replyRequest {
	language := state.Preferences().For(msg.Speaker.Other())
	state.BeginReplies(msg.ID, language)
	return replyRequest{
		ForMessageID: msg.ID,
		Language:     language,
		History:      state.Tail(0),
	}
}

// generate calls the gateway. It runs outside the session queue.
func (p *SmartReplyPipeline) generate(ctx context.Context, req replyRequest) replyResult {
	replies, err := p.llm.SuggestReplies(ctx, req.History, req.Language)
	return replyResult{replyRequest: req, Replies: replies, Err: err}
}

// apply stores result unless a newer message was appended since it was
// requested. A failure leaves an empty set. It reports whether state changed.
func (p *SmartReplyPipeline) apply(state *entities.ConversationState, result replyResult) bool {
	last, ok := state.LastMessage()
	if !ok || last.ID != result.ForMessageID {
		metrics.StaleResults.WithLabelValues("smart_replies").Inc()
		p.logger.Debug("Dropping stale smart replies", zap.String("messageID", result.ForMessageID))
		return false
	}

	replies := result.Replies
	if result.Err != nil {
		replies = nil
	}
	state.SetReplies(entities.SmartReplySet{
		ForMessageID: result.ForMessageID,
		Language:     result.Language,
		Replies:      replies,
	})
	return true
}
