// Package receipt defines the Receipt Store contract: lookup of previously
// computed instruction outputs by content identifier, used by the scheduler
// to skip already-completed work.
package receipt

import (
	"context"
	"encoding/json"

	"github.com/lyzr/wasmrun/internal/cidhash"
	"github.com/lyzr/wasmrun/internal/workflow"
)

// Receipt is a verifiable record of one completed instruction: instruction
// CID, result, metadata, and proof. Receipts are immutable and
// content-addressed.
type Receipt struct {
	Instruction cidhash.CID     `json:"instruction"`
	Result      workflow.Result `json:"result"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Proof       json.RawMessage `json:"proof,omitempty"`
}

// Store is the Receipt Store interface. FindInstructions's order is
// unspecified; missing CIDs are simply absent from the result, never an
// error. StoreReceipt/StoreReceipts are required for testing but not used
// by the core scheduler at init.
type Store interface {
	FindInstructions(ctx context.Context, pointers []cidhash.CID) ([]Receipt, error)
	StoreReceipt(ctx context.Context, r Receipt) error
	StoreReceipts(ctx context.Context, rs []Receipt) error
}
