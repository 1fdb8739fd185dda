package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises appends across every agent process sharing the
// database.
const advisoryLockKey = int64(1_402_557_119)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS agent_ledger (
	idx        INTEGER PRIMARY KEY,
	timestamp  TIMESTAMPTZ NOT NULL,
	entrypoint TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	run_id     TEXT NOT NULL DEFAULT '',
	price      TEXT NOT NULL DEFAULT '',
	network    TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT '',
	data_hash  TEXT NOT NULL,
	prev_hash  TEXT NOT NULL,
	hash       TEXT NOT NULL
)`

const entryColumns = `idx, timestamp, entrypoint, kind, run_id, price, network, status, data_hash, prev_hash, hash`

// PostgresLedger persists the chain in the agent_ledger table.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a PostgresLedger. Call EnsureSchema once before use.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// EnsureSchema creates the ledger table and its genesis row when missing.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	if _, err := tx.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}

	g := genesisEntry(time.Now().UTC().Truncate(time.Microsecond))
	if _, err := tx.Exec(ctx,
		`INSERT INTO agent_ledger (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (idx) DO NOTHING`,
		g.Index, g.Timestamp, g.Entrypoint, g.Kind, g.RunID, g.Price, g.Network, g.Status,
		g.DataHash, g.PrevHash, g.Hash,
	); err != nil {
		return fmt.Errorf("insert genesis entry: %w", err)
	}
	return tx.Commit(ctx)
}

// Append implements Ledger. The tail read and the insert run in one
// transaction under an advisory lock.
func (l *PostgresLedger) Append(ctx context.Context, rec Record) (*Entry, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM agent_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	entry, err := newEntry(prevIdx, prevHash, rec)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO agent_ledger (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.Index, entry.Timestamp, entry.Entrypoint, entry.Kind, entry.RunID,
		entry.Price, entry.Network, entry.Status,
		entry.DataHash, entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.Int("idx", entry.Index),
		zap.String("entrypoint", entry.Entrypoint),
		zap.String("run_id", entry.RunID),
	)
	return entry, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	err := row.Scan(
		&e.Index, &e.Timestamp, &e.Entrypoint, &e.Kind, &e.RunID,
		&e.Price, &e.Network, &e.Status,
		&e.DataHash, &e.PrevHash, &e.Hash,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM agent_ledger WHERE idx = $1`, index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM agent_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Verify implements Ledger. It streams every row in index order.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM agent_ledger ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if err := checkLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM agent_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}
