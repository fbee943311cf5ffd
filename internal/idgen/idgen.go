// Package idgen hands out purchase and ledger identifiers.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

type Generator struct {
	node *snowflake.Node
}

func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// PurchaseID returns a random UUID string.
func (g *Generator) PurchaseID() string {
	return uuid.NewString()
}

// LedgerID returns a time-ordered snowflake id.
func (g *Generator) LedgerID() int64 {
	return g.node.Generate().Int64()
}

// EventID derives a stable id so re-enqueueing the same event is a no-op.
func EventID(eventType, subject string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(eventType+":"+subject)).String()
}
