package draft

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/formedic/examproctor/internal/model"
)

// SaveReceipt records the local audit trail of a confirmed submit. Receipts
// live under their own key prefix and never expire.
func (s *Store) SaveReceipt(r model.Receipt) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode receipt: %w", err)
	}
	if err := s.kvSet(receiptKeyPrefix+r.ID, string(data), nil); err != nil {
		return "", err
	}
	return r.ID, nil
}

// GetReceipt returns a receipt by id, or nil if absent.
func (s *Store) GetReceipt(id string) (*model.Receipt, error) {
	raw, err := s.kvGet(receiptKeyPrefix + id)
	if err != nil || raw == "" {
		return nil, err
	}
	var r model.Receipt
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode receipt %s: %w", id, err)
	}
	return &r, nil
}

// ListReceipts returns all stored receipts, newest submit first.
func (s *Store) ListReceipts() ([]model.Receipt, error) {
	rows, err := s.db.Query(
		`SELECT value FROM kv_store WHERE key LIKE ? ORDER BY updated_at DESC`,
		receiptKeyPrefix+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []model.Receipt
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var r model.Receipt
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(receipts, func(i, j int) bool {
		return receipts[i].SubmittedAt.After(receipts[j].SubmittedAt)
	})
	return receipts, nil
}
