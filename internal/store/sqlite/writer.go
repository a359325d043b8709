package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"indicator-engine/internal/model"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond

	dsnPragmas = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/indicators.db"
}

// Writer is the single SQLite writer: quotes, carried state and the
// security indicator records.
type Writer struct {
	db  *sql.DB
	log *zap.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig, log *zap.Logger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.Named("sqlite")
	log.Info("opened database", zap.String("path", cfg.DBPath))
	return &Writer{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS quotes (
			security_id TEXT    NOT NULL,
			date        TEXT    NOT NULL,
			open        TEXT    NOT NULL,
			high        TEXT    NOT NULL,
			low         TEXT    NOT NULL,
			close       TEXT    NOT NULL,
			volume      INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (security_id, date)
		);

		CREATE TABLE IF NOT EXISTS indicator_states (
			security_id TEXT    NOT NULL,
			spec_id     TEXT    NOT NULL,
			data        TEXT    NOT NULL,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (security_id, spec_id)
		);

		CREATE TABLE IF NOT EXISTS security_indicators (
			security_id TEXT    PRIMARY KEY,
			as_of       TEXT    NOT NULL,
			fields      TEXT    NOT NULL DEFAULT '{}',
			extra       TEXT    NOT NULL DEFAULT '{}',
			updated_at  INTEGER NOT NULL
		);
	`)
	return err
}

// SecurityBar is one daily bar tagged with its security, as streamed by importers.
type SecurityBar struct {
	SecurityID string
	Bar        model.PriceBar
}

// Run reads bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed; returns the number of
// bars committed.
func (w *Writer) Run(ctx context.Context, barCh <-chan SecurityBar) int {
	batch := make([]SecurityBar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()
	total := 0

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(context.Background(), batch); err != nil {
			w.log.Error("batch insert failed", zap.Int("bars", len(batch)), zap.Error(err))
		} else {
			total += len(batch)
			w.log.Debug("committed bars", zap.Int("bars", len(batch)), zap.Duration("took", time.Since(start)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return total

		case b, ok := <-barCh:
			if !ok {
				flush()
				return total
			}
			batch = append(batch, b)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// AppendBars inserts the daily bars of one security in a single transaction.
func (w *Writer) AppendBars(ctx context.Context, securityID string, bars []model.PriceBar) error {
	batch := make([]SecurityBar, len(bars))
	for i, b := range bars {
		batch[i] = SecurityBar{SecurityID: securityID, Bar: b}
	}
	return w.insertBatch(ctx, batch)
}

// insertBatch inserts a batch of bars in a single transaction.
func (w *Writer) insertBatch(ctx context.Context, bars []SecurityBar) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO quotes (security_id, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, sb := range bars {
		b := sb.Bar
		_, err := stmt.ExecContext(ctx, sb.SecurityID, model.FormatDate(b.Date),
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// SaveStates implements model.StateStore.
func (w *Writer) SaveStates(ctx context.Context, securityID string, states map[string][]byte) error {
	if len(states) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO indicator_states (security_id, spec_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (security_id, spec_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for specID, blob := range states {
		if _, err := stmt.ExecContext(ctx, securityID, specID, string(blob), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite save state %s/%s: %w", securityID, specID, err)
		}
	}
	return tx.Commit()
}

// MergeRecord implements model.RecordStore. The existing record is read and
// rewritten inside one transaction; fields not present in r are kept.
func (w *Writer) MergeRecord(ctx context.Context, r *model.ComputationResult) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	fields := make(map[string]json.RawMessage)
	extra := make(map[string]json.RawMessage)
	var rawFields, rawExtra string
	err = tx.QueryRowContext(ctx,
		`SELECT fields, extra FROM security_indicators WHERE security_id = ?`, r.SecurityID,
	).Scan(&rawFields, &rawExtra)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("sqlite read record: %w", err)
	default:
		if err := json.Unmarshal([]byte(rawFields), &fields); err != nil {
			return fmt.Errorf("sqlite decode fields of %s: %w", r.SecurityID, err)
		}
		if err := json.Unmarshal([]byte(rawExtra), &extra); err != nil {
			return fmt.Errorf("sqlite decode extra of %s: %w", r.SecurityID, err)
		}
	}

	for name, v := range r.Fields {
		if v == nil {
			fields[name] = json.RawMessage("null")
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", name, err)
		}
		fields[name] = b
	}
	for id, blob := range r.Extra {
		extra[id] = blob
	}

	fb, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	eb, err := json.Marshal(extra)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO security_indicators (security_id, as_of, fields, extra, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (security_id) DO UPDATE SET
			as_of = excluded.as_of, fields = excluded.fields,
			extra = excluded.extra, updated_at = excluded.updated_at
	`, r.SecurityID, model.FormatDate(r.AsOf), string(fb), string(eb), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite write record: %w", err)
	}
	return tx.Commit()
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
