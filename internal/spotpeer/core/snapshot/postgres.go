package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	// Registers the "postgres" driver.
	_ "github.com/lib/pq"

	"github.com/autopeer-io/spotpeer/internal/spotpeer/core/model"
	"github.com/autopeer-io/spotpeer/pkg/log"
)

// DefaultTable is the spots table used when none is configured.
const DefaultTable = "parking_spots"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostgresFetcher reads the baseline straight from the backend database.
type PostgresFetcher struct {
	db     *sql.DB
	query  string
	logger log.Logger
}

var _ Fetcher = (*PostgresFetcher)(nil)

// OpenPostgres opens a lib/pq connection pool for dsn.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewPostgresFetcher returns a fetcher reading table through db.
func NewPostgresFetcher(db *sql.DB, table string, logger log.Logger) (*PostgresFetcher, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &PostgresFetcher{
		db: db,
		query: "SELECT id, code, floor, parking_lot_id, status, created_at FROM " + table +
			" WHERE parking_lot_id = $1 ORDER BY code ASC",
		logger: logger.WithName("snapshot-postgres"),
	}, nil
}

// FetchByLot implements Fetcher.
func (f *PostgresFetcher) FetchByLot(ctx context.Context, lot model.LotID) ([]model.Spot, error) {
	rows, err := f.db.QueryContext(ctx, f.query, int64(lot))
	if err != nil {
		return nil, &TransportError{Op: "query spots", Err: err}
	}
	defer rows.Close()

	var records []record
	for rows.Next() {
		var (
			id, lotID int64
			code      sql.NullString
			floor     sql.NullString
			st        sql.NullString
			createdAt sql.NullTime
		)
		if err := rows.Scan(&id, &code, &floor, &lotID, &st, &createdAt); err != nil {
			return nil, &DataError{Reason: "scan spot row", Err: err}
		}

		r := record{ID: &id, LotID: &lotID, Floor: floorValue(floor.String), CreatedAt: createdAt.Time}
		if code.Valid {
			r.Code = &code.String
		}
		if st.Valid {
			r.Status = &st.String
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &TransportError{Op: "query spots", Err: err}
	}

	spots, err := toSpots(records, lot)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("Fetched snapshot", "lot", lot, "spots", len(spots))
	return spots, nil
}
