package replication

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeusync/ecs/internal/core/models"
	_ "modernc.org/sqlite"
)

const journalSchema = `CREATE TABLE IF NOT EXISTS envelopes (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT    NOT NULL UNIQUE,
	event       TEXT    NOT NULL,
	fingerprint INTEGER NOT NULL,
	target      INTEGER NOT NULL,
	payload     TEXT    NOT NULL,
	sent_at     INTEGER NOT NULL
)`

// Journal appends envelopes to a SQLite file so they can be replayed in
// order later, e.g. by a peer that joins late.
type Journal struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// OpenJournal opens or creates the journal at path.
func OpenJournal(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Replicate(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO envelopes (id, event, fingerprint, target, payload, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
		env.ID.String(), env.Event, int64(env.Fingerprint), int64(env.Target), string(payload), env.SentAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append envelope: %w", err)
	}
	return nil
}

// Replay calls fn for every envelope with a sequence number above after,
// oldest first, and returns the last sequence number visited.
func (j *Journal) Replay(ctx context.Context, after int64, fn func(seq int64, env Envelope) error) (int64, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, id, event, fingerprint, target, payload, sent_at FROM envelopes WHERE seq > ? ORDER BY seq`, after)
	if err != nil {
		return after, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	last := after
	for rows.Next() {
		var (
			seq, fingerprint, target, sentAt int64
			id, payload                      string
			env                              Envelope
		)
		if err := rows.Scan(&seq, &id, &env.Event, &fingerprint, &target, &payload, &sentAt); err != nil {
			return last, fmt.Errorf("scan envelope: %w", err)
		}
		if env.ID, err = uuid.Parse(id); err != nil {
			return last, fmt.Errorf("envelope %d: %w", seq, err)
		}
		dec := json.NewDecoder(strings.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&env.Payload); err != nil {
			return last, fmt.Errorf("envelope %d: %w", seq, err)
		}
		env.Fingerprint = uint64(fingerprint)
		env.Target = models.EntityID(target)
		env.SentAt = time.UnixMilli(sentAt).UTC()

		if err := fn(seq, env); err != nil {
			return last, err
		}
		last = seq
	}
	return last, rows.Err()
}

// Len returns the number of journaled envelopes.
func (j *Journal) Len(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM envelopes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal: %w", err)
	}
	return n, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
