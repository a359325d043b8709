package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"indicator-engine/internal/model"
)

// Record is a stored security indicator record.
type Record struct {
	SecurityID string                     `json:"security_id"`
	AsOf       string                     `json:"as_of"`
	Fields     map[string]json.RawMessage `json:"fields"`
	Extra      map[string]json.RawMessage `json:"extra"`
}

// Reader provides read access to quotes, states and records.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The schema is created by
// the Writer, so open the Writer first.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnPragmas)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	return &Reader{db: db}, nil
}

// ReadBars implements model.TimeSeriesStore. Bars are ordered by date ascending.
func (r *Reader) ReadBars(ctx context.Context, securityID string) ([]model.PriceBar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, volume
		FROM quotes
		WHERE security_id = ?
		ORDER BY date ASC
	`, securityID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query quotes: %w", err)
	}
	defer rows.Close()

	var bars []model.PriceBar
	for rows.Next() {
		var (
			date, o, h, l, c string
			b                model.PriceBar
		)
		if err := rows.Scan(&date, &o, &h, &l, &c, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan quotes: %w", err)
		}
		if b.Date, err = model.ParseDate(date); err != nil {
			return nil, fmt.Errorf("quote %s %q: %w", securityID, date, err)
		}
		if err := parseDecimals([]string{o, h, l, c}, &b.Open, &b.High, &b.Low, &b.Close); err != nil {
			return nil, fmt.Errorf("quote %s %s: %w", securityID, date, err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// ListSecurities implements model.TimeSeriesStore.
func (r *Reader) ListSecurities(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT security_id FROM quotes ORDER BY security_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite list securities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadStates implements model.StateStore.
func (r *Reader) LoadStates(ctx context.Context, securityID string, specIDs []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(specIDs))
	if len(specIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(specIDs)+1)
	args = append(args, securityID)
	for _, id := range specIDs {
		args = append(args, id)
	}
	q := `SELECT spec_id, data FROM indicator_states WHERE security_id = ? AND spec_id IN (?` +
		strings.Repeat(",?", len(specIDs)-1) + `)`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query states: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("sqlite scan states: %w", err)
		}
		out[id] = []byte(data)
	}
	return out, rows.Err()
}

// ReadRecord returns the stored record of a security, or nil if none exists.
func (r *Reader) ReadRecord(ctx context.Context, securityID string) (*Record, error) {
	var fields, extra string
	rec := &Record{SecurityID: securityID}
	err := r.db.QueryRowContext(ctx,
		`SELECT as_of, fields, extra FROM security_indicators WHERE security_id = ?`, securityID,
	).Scan(&rec.AsOf, &fields, &extra)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no record
		}
		return nil, fmt.Errorf("sqlite read record: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	if err := json.Unmarshal([]byte(extra), &rec.Extra); err != nil {
		return nil, fmt.Errorf("decode extra: %w", err)
	}
	return rec, nil
}

// Ping checks the connection.
func (r *Reader) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

func parseDecimals(raw []string, dst ...*decimal.Decimal) error {
	for i, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		*dst[i] = d
	}
	return nil
}

// stateStore pairs the reader and the single writer into one model.StateStore.
type stateStore struct {
	r *Reader
	w *Writer
}

// States returns the SQLite state store backed by r and w.
func States(r *Reader, w *Writer) model.StateStore {
	return stateStore{r: r, w: w}
}

func (s stateStore) LoadStates(ctx context.Context, securityID string, specIDs []string) (map[string][]byte, error) {
	return s.r.LoadStates(ctx, securityID, specIDs)
}

func (s stateStore) SaveStates(ctx context.Context, securityID string, states map[string][]byte) error {
	return s.w.SaveStates(ctx, securityID, states)
}
