package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cashqueue/internal/model"
	"cashqueue/internal/repository"

	_ "github.com/mattn/go-sqlite3"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Database represents a connection to the SQLite database. The zero-tx value
// returned by New owns the pool; WithinTx hands out copies bound to a tx.
type Database struct {
	db   *sql.DB
	q    querier
	inTx bool
}

var _ repository.Repository = (*Database)(nil)

// New opens the SQLite file at dbPath and initializes the schema
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// One connection: SQLite allows a single writer and every read-modify-write
	// here runs inside a transaction on it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &Database{db: db, q: db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS withdrawal_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payee_name TEXT NOT NULL,
			method TEXT NOT NULL,
			destination TEXT NOT NULL,
			original_amount TEXT NOT NULL,
			remaining_amount TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'not_started',
			origin_context TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawal_method_status
			ON withdrawal_requests (method, status)`,
		`CREATE INDEX IF NOT EXISTS idx_withdrawal_origin
			ON withdrawal_requests (origin_context, status)`,
		`CREATE TABLE IF NOT EXISTS deposit_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			depositor_name TEXT NOT NULL,
			method TEXT NOT NULL,
			amount TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			matched_withdrawal_id INTEGER,
			origin_context TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			confirmed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS settlements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			deposit_id INTEGER NOT NULL,
			withdrawal_id INTEGER NOT NULL,
			amount TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query: %w\nQuery: %s", err, query)
		}
	}

	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying database connection
func (d *Database) DB() *sql.DB {
	return d.db
}

// WithinTx runs fn in a single SQLite transaction. Nested calls reuse the
// outer transaction.
func (d *Database) WithinTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	return d.withTx(ctx, func(tx *Database) error { return fn(tx) })
}

func (d *Database) withTx(ctx context.Context, fn func(tx *Database) error) error {
	if d.inTx {
		return fn(d)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&Database{db: d.db, q: tx, inTx: true}); err != nil {
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const withdrawalColumns = `id, payee_name, method, destination, original_amount, remaining_amount,
	status, origin_context, version, created_at, updated_at`

func scanWithdrawal(row rowScanner) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	err := row.Scan(&w.ID, &w.PayeeName, &w.Method, &w.Destination, &w.OriginalAmount, &w.RemainingAmount,
		&w.Status, &w.OriginContext, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWithdrawal inserts w and sets its ID
func (d *Database) CreateWithdrawal(ctx context.Context, w *model.WithdrawalRequest) (int64, error) {
	if w.Version == 0 {
		w.Version = 1
	}
	w.RecomputeStatus()

	result, err := d.q.ExecContext(ctx, `
		INSERT INTO withdrawal_requests
		(payee_name, method, destination, original_amount, remaining_amount, status, origin_context, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.PayeeName, w.Method, w.Destination, w.OriginalAmount, w.RemainingAmount,
		w.Status, w.OriginContext, w.Version, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to create withdrawal request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	w.ID = id
	return id, nil
}

// GetWithdrawal gets a withdrawal request by ID
func (d *Database) GetWithdrawal(ctx context.Context, id int64) (*model.WithdrawalRequest, error) {
	row := d.q.QueryRowContext(ctx, "SELECT "+withdrawalColumns+" FROM withdrawal_requests WHERE id = ?", id)
	w, err := scanWithdrawal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("withdrawal %d: %w", id, model.ErrNotFound)
	}
	return w, err
}

func (d *Database) FindWithdrawals(ctx context.Context, f model.WithdrawalFilter) ([]model.WithdrawalRequest, error) {
	var (
		where []string
		args  []any
	)
	if f.Method != "" {
		where = append(where, "method = ?")
		args = append(args, f.Method)
	}
	if f.OriginContext != "" {
		where = append(where, "origin_context = ?")
		args = append(args, f.OriginContext)
	}
	if f.OpenOnly {
		// status is kept in step with remaining_amount on every write
		where = append(where, "status != ?")
		args = append(args, model.WithdrawalCompleted)
	}

	query := "SELECT " + withdrawalColumns + " FROM withdrawal_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get withdrawal requests: %w", err)
	}
	defer rows.Close()

	withdrawals := make([]model.WithdrawalRequest, 0)
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
		}
		withdrawals = append(withdrawals, *w)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawal requests: %w", err)
	}

	return withdrawals, nil
}

// UpdateWithdrawal applies fn to the stored row and writes it back guarded by
// the version it read.
func (d *Database) UpdateWithdrawal(ctx context.Context, id int64, fn repository.WithdrawalMutator) (*model.WithdrawalRequest, error) {
	var updated *model.WithdrawalRequest
	err := d.withTx(ctx, func(tx *Database) error {
		current, err := tx.GetWithdrawal(ctx, id)
		if err != nil {
			return err
		}

		next := *current
		if err := fn(&next); err != nil {
			return err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.RecomputeStatus()
		if err := next.CheckAmounts(); err != nil {
			return fmt.Errorf("withdrawal %d: %w", id, err)
		}
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now().UTC()

		result, err := tx.q.ExecContext(ctx, `
			UPDATE withdrawal_requests
			SET payee_name = ?, method = ?, destination = ?, original_amount = ?, remaining_amount = ?,
				status = ?, origin_context = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			next.PayeeName, next.Method, next.Destination, next.OriginalAmount, next.RemainingAmount,
			next.Status, next.OriginContext, next.Version, next.UpdatedAt,
			id, current.Version)
		if err != nil {
			return fmt.Errorf("failed to update withdrawal %d: %w", id, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("withdrawal %d: %w", id, model.ErrConflict)
		}

		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (d *Database) DeleteWithdrawal(ctx context.Context, id int64) error {
	result, err := d.q.ExecContext(ctx, "DELETE FROM withdrawal_requests WHERE id = ?", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("withdrawal %d: %w", id, model.ErrNotFound)
	}
	return nil
}

const depositColumns = `id, depositor_name, method, amount, status, matched_withdrawal_id,
	origin_context, created_at, confirmed_at`

func scanDeposit(row rowScanner) (*model.DepositRecord, error) {
	var (
		dep       model.DepositRecord
		matchedID sql.NullInt64
		confirmed sql.NullTime
	)
	err := row.Scan(&dep.ID, &dep.DepositorName, &dep.Method, &dep.Amount, &dep.Status, &matchedID,
		&dep.OriginContext, &dep.CreatedAt, &confirmed)
	if err != nil {
		return nil, err
	}
	if matchedID.Valid {
		dep.MatchedWithdrawalID = matchedID.Int64
	}
	if confirmed.Valid {
		t := confirmed.Time
		dep.ConfirmedAt = &t
	}
	return &dep, nil
}

func nullableID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// CreateDeposit inserts a deposit record and sets its ID
func (d *Database) CreateDeposit(ctx context.Context, dep *model.DepositRecord) (int64, error) {
	result, err := d.q.ExecContext(ctx, `
		INSERT INTO deposit_records
		(depositor_name, method, amount, status, matched_withdrawal_id, origin_context, created_at, confirmed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dep.DepositorName, dep.Method, dep.Amount, dep.Status, nullableID(dep.MatchedWithdrawalID),
		dep.OriginContext, dep.CreatedAt, nullableTime(dep.ConfirmedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to create deposit record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	dep.ID = id
	return id, nil
}

// GetDeposit gets a deposit record by ID
func (d *Database) GetDeposit(ctx context.Context, id int64) (*model.DepositRecord, error) {
	row := d.q.QueryRowContext(ctx, "SELECT "+depositColumns+" FROM deposit_records WHERE id = ?", id)
	dep, err := scanDeposit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("deposit %d: %w", id, model.ErrNotFound)
	}
	return dep, err
}

func (d *Database) FindDeposits(ctx context.Context, f model.DepositFilter) ([]model.DepositRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.Method != "" {
		where = append(where, "method = ?")
		args = append(args, f.Method)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}

	query := "SELECT " + depositColumns + " FROM deposit_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit records: %w", err)
	}
	defer rows.Close()

	deposits := make([]model.DepositRecord, 0)
	for rows.Next() {
		dep, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit record: %w", err)
		}
		deposits = append(deposits, *dep)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deposit records: %w", err)
	}

	return deposits, nil
}

func (d *Database) UpdateDeposit(ctx context.Context, id int64, fn repository.DepositMutator) (*model.DepositRecord, error) {
	var updated *model.DepositRecord
	err := d.withTx(ctx, func(tx *Database) error {
		current, err := tx.GetDeposit(ctx, id)
		if err != nil {
			return err
		}

		next := *current
		if err := fn(&next); err != nil {
			return err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		if err := model.CheckDepositTransition(current, &next); err != nil {
			return fmt.Errorf("deposit %d: %w", id, err)
		}

		_, err = tx.q.ExecContext(ctx, `
			UPDATE deposit_records
			SET depositor_name = ?, status = ?, matched_withdrawal_id = ?, origin_context = ?, confirmed_at = ?
			WHERE id = ?`,
			next.DepositorName, next.Status, nullableID(next.MatchedWithdrawalID), next.OriginContext,
			nullableTime(next.ConfirmedAt), id)
		if err != nil {
			return fmt.Errorf("failed to update deposit %d: %w", id, err)
		}

		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteOldestDeposit removes the lowest-id deposit record
func (d *Database) DeleteOldestDeposit(ctx context.Context) (*model.DepositRecord, error) {
	var oldest *model.DepositRecord
	err := d.withTx(ctx, func(tx *Database) error {
		row := tx.q.QueryRowContext(ctx, "SELECT "+depositColumns+" FROM deposit_records ORDER BY id ASC LIMIT 1")
		dep, err := scanDeposit(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("deposits: %w", model.ErrNotFound)
		}
		if err != nil {
			return err
		}

		if _, err := tx.q.ExecContext(ctx, "DELETE FROM deposit_records WHERE id = ?", dep.ID); err != nil {
			return err
		}
		oldest = dep
		return nil
	})
	if err != nil {
		return nil, err
	}
	return oldest, nil
}

// AppendSettlement adds a line to the settlement journal
func (d *Database) AppendSettlement(ctx context.Context, s *model.Settlement) (int64, error) {
	result, err := d.q.ExecContext(ctx, `
		INSERT INTO settlements (deposit_id, withdrawal_id, amount, created_at)
		VALUES (?, ?, ?, ?)`,
		s.DepositID, s.WithdrawalID, s.Amount, s.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to record settlement: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.ID = id
	return id, nil
}

// ListSettlements retrieves the settlement journal with pagination
func (d *Database) ListSettlements(ctx context.Context, page, pageSize int) (*model.SettlementHistory, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	var total int
	if err := d.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM settlements").Scan(&total); err != nil {
		return nil, err
	}

	if page-1 > total/pageSize {
		return &model.SettlementHistory{
			Settlements: []model.Settlement{},
			Total:       total,
			Page:        page,
			PageSize:    pageSize,
		}, nil
	}
	offset := (page - 1) * pageSize

	rows, err := d.q.QueryContext(ctx, `
		SELECT id, deposit_id, withdrawal_id, amount, created_at
		FROM settlements
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`, pageSize, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settlements := make([]model.Settlement, 0)
	for rows.Next() {
		var s model.Settlement
		if err := rows.Scan(&s.ID, &s.DepositID, &s.WithdrawalID, &s.Amount, &s.CreatedAt); err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &model.SettlementHistory{
		Settlements: settlements,
		Total:       total,
		Page:        page,
		PageSize:    pageSize,
	}, nil
}
