package app

import (
	"context"
	"log/slog"

	"github.com/jcolson/dndvault-bot-sub000/internal/chat"
	"github.com/jcolson/dndvault-bot-sub000/internal/metrics"
)

type reactionProcessor interface {
	Handle(ctx context.Context, r chat.Reaction)
}

// ReactionQueue feeds reactions to a single consumer so each one is handled
// and cleaned up before the next starts.
type ReactionQueue struct {
	queue   chan chat.Reaction
	handler reactionProcessor
	logger  *slog.Logger
}

const defaultReactionQueueDepth = 256

func NewReactionQueue(handler reactionProcessor, depth int, logger *slog.Logger) *ReactionQueue {
	if depth <= 0 {
		depth = defaultReactionQueueDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReactionQueue{
		queue:   make(chan chat.Reaction, depth),
		handler: handler,
		logger:  logger,
	}
}

// Submit enqueues without blocking and returns false when the queue is full.
func (q *ReactionQueue) Submit(r chat.Reaction) bool {
	select {
	case q.queue <- r:
		metrics.ReactionQueueDepth.Set(float64(len(q.queue)))
		return true
	default:
		metrics.ReactionsDropped.Inc()
		q.logger.Warn("reaction queue full, dropping", "message_id", r.MessageID, "user_id", r.UserID)
		return false
	}
}

// Run consumes the queue until ctx is done.
func (q *ReactionQueue) Run(ctx context.Context) {
	for {
		select {
		case r := <-q.queue:
			metrics.ReactionQueueDepth.Set(float64(len(q.queue)))
			q.process(ctx, r)
		case <-ctx.Done():
			return
		}
	}
}

func (q *ReactionQueue) process(ctx context.Context, r chat.Reaction) {
	defer func() {
		if p := recover(); p != nil {
			q.logger.Error("reaction handler panicked", "message_id", r.MessageID, "panic", p)
		}
	}()
	q.handler.Handle(ctx, r)
}

func (q *ReactionQueue) Len() int {
	return len(q.queue)
}
