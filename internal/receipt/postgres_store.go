package receipt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/wasmrun/common/db"
	"github.com/lyzr/wasmrun/internal/cidhash"
)

// PostgresStore is the persistent Receipt Store, grounded on the teacher's
// common/repository/run.go (the pgx query/Scan shape) and common/db/db.go
// (pool wiring) - generalized from the run table to a receipt table keyed
// by instruction CID instead of run id.
type PostgresStore struct {
	db *db.DB
}

// NewPostgresStore creates a Receipt Store backed by the given pool.
func NewPostgresStore(database *db.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

// FindInstructions looks up receipts for the given CIDs. Missing CIDs are
// simply absent from the result; this is never treated as an error by
// callers, and a query failure is reported so the scheduler can treat the
// whole batch as "none found" per its edge-case policy.
func (s *PostgresStore) FindInstructions(ctx context.Context, pointers []cidhash.CID) ([]Receipt, error) {
	if len(pointers) == 0 {
		return nil, nil
	}

	ids := make([]string, len(pointers))
	for i, p := range pointers {
		ids[i] = p.String()
	}

	rows, err := s.db.Query(ctx, `
		SELECT instruction_cid, result, metadata, proof
		FROM receipt
		WHERE instruction_cid = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		var (
			cidStr     string
			resultJSON []byte
			r          Receipt
		)
		if err := rows.Scan(&cidStr, &resultJSON, &r.Metadata, &r.Proof); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		if err := json.Unmarshal(resultJSON, &r.Result); err != nil {
			return nil, fmt.Errorf("unmarshal receipt result: %w", err)
		}
		r.Instruction = cidhash.CID(cidStr)
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}

	return receipts, nil
}

// StoreReceipt inserts a single receipt, upserting on instruction CID since
// receipts are content-addressed and re-storing the same instruction's
// result is idempotent.
func (s *PostgresStore) StoreReceipt(ctx context.Context, r Receipt) error {
	resultJSON, err := json.Marshal(r.Result)
	if err != nil {
		return fmt.Errorf("marshal receipt result: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO receipt (instruction_cid, result, metadata, proof)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (instruction_cid) DO UPDATE
		SET result = EXCLUDED.result, metadata = EXCLUDED.metadata, proof = EXCLUDED.proof
	`, r.Instruction.String(), resultJSON, r.Metadata, r.Proof)
	if err != nil {
		return fmt.Errorf("store receipt %s: %w", r.Instruction, err)
	}
	return nil
}

// StoreReceipts stores many receipts in one round trip via a batch.
func (s *PostgresStore) StoreReceipts(ctx context.Context, rs []Receipt) error {
	if len(rs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rs {
		resultJSON, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("marshal receipt result for %s: %w", r.Instruction, err)
		}
		batch.Queue(`
			INSERT INTO receipt (instruction_cid, result, metadata, proof)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (instruction_cid) DO UPDATE
			SET result = EXCLUDED.result, metadata = EXCLUDED.metadata, proof = EXCLUDED.proof
		`, r.Instruction.String(), resultJSON, r.Metadata, r.Proof)
	}

	br := s.db.SendBatch(ctx, batch)
	defer br.Close()

	for range rs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch store receipts: %w", err)
		}
	}
	return nil
}
