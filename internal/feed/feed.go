// Package feed carries storage change notifications between sessions over
// Redis pub/sub. Events announce that a row in a table changed; they do not
// promise a full post-image, so consumers re-query instead of patching.
package feed

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"

	"lexops/api/internal/util"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event is the change announcement published after each successful mutation.
type Event struct {
	ID           string `json:"id"`
	Table        string `json:"table"`
	Op           Op     `json:"op"`
	RowID        string `json:"rowId,omitempty"`
	AssignmentID string `json:"assignmentId,omitempty"`
}

func Channel(table string) string {
	return "feed:" + table
}

// Publisher announces mutations. Publishing is best-effort: a failed publish
// is logged and never fails the mutation that triggered it, since the writer
// has already committed.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, event Event) {
	if p == nil || p.client == nil {
		return
	}
	if event.ID == "" {
		event.ID = util.NewID("evt")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("feed: marshal event for %s: %v", event.Table, err)
		return
	}
	if err := p.client.Publish(ctx, Channel(event.Table), payload).Err(); err != nil {
		log.Printf("feed: publish %s %s: %v", event.Op, event.Table, err)
	}
}
