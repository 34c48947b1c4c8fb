package client

import (
	"context"

	"github.com/RezaEskandarii/taskrelay/types"
)

// ResultPusher delivers a push event to a live connection held by this process.
type ResultPusher interface {
	Push(ctx context.Context, connectionID string, event types.PushEvent) error
}
