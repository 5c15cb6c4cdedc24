// Package draft persists client-side exam drafts in a local key-value store.
// Each draft session is one JSON value keyed by assignment id under a fixed
// prefix; writes always replace the whole session in a single statement, so a
// concurrent reader in the same client never observes a partial draft.
package draft

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formedic/examproctor/internal/model"

	_ "modernc.org/sqlite"
)

// DefaultTTL is the soft expiry of a draft session, enforced at read time.
const DefaultTTL = 24 * time.Hour

const (
	sessionKeyPrefix = "examproctor:session:"
	receiptKeyPrefix = "examproctor:receipt:"
)

// Store is a SQLite-backed key-value store for drafts and submit receipts.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the draft expiry age.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens (and migrates) the store at dbPath.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv_store (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		started_at DATETIME,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func sessionKey(assignmentID string) string {
	return sessionKeyPrefix + assignmentID
}

// Load reads the persisted draft for an assignment. A missing draft returns
// (nil, nil). A draft older than the TTL is deleted and reported absent:
// silent expiry, no error.
func (s *Store) Load(assignmentID string) (*model.Session, error) {
	raw, err := s.kvGet(sessionKey(assignmentID))
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", assignmentID, err)
	}
	if sess.Age(s.now()) >= s.ttl {
		_ = s.Clear(assignmentID)
		return nil, nil
	}
	return &sess, nil
}

// Start creates and persists a fresh draft for the assignment, overwriting
// any prior draft for the same id. Empty ids persist nothing.
func (s *Store) Start(exerciseID, assignmentID string) (*model.Session, error) {
	if exerciseID == "" || assignmentID == "" {
		return nil, fmt.Errorf("start draft: exercise and assignment ids are required")
	}
	sess := &model.Session{
		ExerciseID:           exerciseID,
		AssignmentID:         assignmentID,
		WriterID:             uuid.NewString(),
		StartedAt:            s.now(),
		CurrentQuestionIndex: 0,
		Answers:              make(map[string]model.Answer),
		IsStarted:            true,
	}
	if err := s.persist(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SaveAnswer replaces (not merges) the answer map entry for questionID and
// persists the full updated session.
func (s *Store) SaveAnswer(sess *model.Session, questionID string, answer model.Answer) (*model.Session, error) {
	updated := cloneSession(sess)
	updated.Answers[questionID] = answer
	if err := s.persist(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// GoTo sets the current question index and persists the session. Bounds are
// the controller's responsibility, not this layer's.
func (s *Store) GoTo(sess *model.Session, index int) (*model.Session, error) {
	updated := cloneSession(sess)
	updated.CurrentQuestionIndex = index
	if err := s.persist(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Clear deletes the persisted draft for an assignment.
func (s *Store) Clear(assignmentID string) error {
	return s.kvDelete(sessionKey(assignmentID))
}

// SweepExpired bulk-deletes drafts older than the TTL and returns how many
// were removed. Load's read-time check remains the authoritative guard; the
// sweep just keeps the store from accumulating dead rows.
func (s *Store) SweepExpired(now time.Time) (int, error) {
	res, err := s.db.Exec(
		`DELETE FROM kv_store WHERE key LIKE ? AND started_at IS NOT NULL AND started_at <= ?`,
		sessionKeyPrefix+"%", now.Add(-s.ttl),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) persist(sess *model.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode draft %s: %w", sess.AssignmentID, err)
	}
	return s.kvSet(sessionKey(sess.AssignmentID), string(data), &sess.StartedAt)
}

func cloneSession(sess *model.Session) *model.Session {
	updated := *sess
	updated.Answers = make(map[string]model.Answer, len(sess.Answers)+1)
	for k, v := range sess.Answers {
		updated.Answers[k] = v
	}
	return &updated
}

// kvSet upserts a key-value pair. The whole value is written in one
// statement.
func (s *Store) kvSet(key, value string, startedAt *time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO kv_store (key, value, started_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?, started_at = ?, updated_at = ?`,
		key, value, startedAt, s.now(), value, startedAt, s.now(),
	)
	return err
}

// kvGet returns the value for a key. A missing key returns empty string and
// nil error.
func (s *Store) kvGet(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *Store) kvDelete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv_store WHERE key = ?`, key)
	return err
}
