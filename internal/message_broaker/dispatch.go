package message_broaker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// dispatch runs handler for one delivery and reports whether it must be acknowledged.
func dispatch(ctx context.Context, logger *zap.Logger, queue string, handler MessageHandler, body []byte) (ack bool) {
	if !json.Valid(body) {
		logger.Error("dropping message that is not valid JSON", zap.String("queue", queue), zap.Int("size", len(body)))
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("message handler panicked", zap.String("queue", queue), zap.String("panic", fmt.Sprint(r)))
			ack = false
		}
	}()

	ok, err := handler(ctx, body)
	if err != nil {
		logger.Error("message handler failed", zap.String("queue", queue), zap.Error(err))
		return false
	}
	if !ok {
		logger.Warn("message rejected by handler", zap.String("queue", queue))
	}
	return ok
}
