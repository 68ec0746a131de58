package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"invoicer/internal/core"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	return err
}

// UpsertUser creates or updates a user.
func (r *SQLiteRepository) UpsertUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, display_name = excluded.display_name`,
		u.ID, u.Email, u.DisplayName)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx, `SELECT id, email, display_name FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.DisplayName)
	if err != nil {
		return core.User{}, fmt.Errorf("get user %s: %w", id, notFound(err))
	}
	return u, nil
}

// CreateToken implements ports.TokenStore
func (r *SQLiteRepository) CreateToken(ctx context.Context, userID, tokenHash, label string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO api_tokens (token_hash, user_id, label) VALUES (?, ?, ?)`,
		tokenHash, userID, label)
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	slog.InfoContext(ctx, "API token created", "user_id", userID, "label", label)
	return nil
}

// UserByTokenHash implements ports.TokenStore
func (r *SQLiteRepository) UserByTokenHash(ctx context.Context, tokenHash string) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.display_name
		FROM api_tokens t JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = ?`, tokenHash).
		Scan(&u.ID, &u.Email, &u.DisplayName)
	if err != nil {
		return core.User{}, fmt.Errorf("lookup token: %w", notFound(err))
	}
	return u, nil
}

func (r *SQLiteRepository) UpsertProfile(ctx context.Context, p core.PayeeProfile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, full_name, postal_code, address, email, phone, registration_number)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			full_name = excluded.full_name,
			postal_code = excluded.postal_code,
			address = excluded.address,
			email = excluded.email,
			phone = excluded.phone,
			registration_number = excluded.registration_number`,
		p.UserID, p.FullName, p.PostalCode, p.Address, p.Email, p.Phone, p.RegistrationNumber)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.UserID, err)
	}
	return nil
}

// GetProfile implements ports.ProfileReader
func (r *SQLiteRepository) GetProfile(ctx context.Context, userID string) (core.PayeeProfile, error) {
	p := core.PayeeProfile{UserID: userID}
	err := r.db.QueryRowContext(ctx, `
		SELECT full_name, postal_code, address, email, phone, registration_number
		FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.FullName, &p.PostalCode, &p.Address, &p.Email, &p.Phone, &p.RegistrationNumber)
	if err != nil {
		return core.PayeeProfile{}, fmt.Errorf("get profile %s: %w", userID, notFound(err))
	}
	return p, nil
}

func (r *SQLiteRepository) UpsertBankAccount(ctx context.Context, userID string, b core.BankAccount) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (user_id, bank_name, branch_name, account_type, account_number, account_holder)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			bank_name = excluded.bank_name,
			branch_name = excluded.branch_name,
			account_type = excluded.account_type,
			account_number = excluded.account_number,
			account_holder = excluded.account_holder`,
		userID, b.BankName, b.BranchName, b.AccountType, b.AccountNumber, b.AccountHolder)
	if err != nil {
		return fmt.Errorf("upsert bank account %s: %w", userID, err)
	}
	return nil
}

// GetBankAccount implements ports.BankAccountReader
func (r *SQLiteRepository) GetBankAccount(ctx context.Context, userID string) (core.BankAccount, error) {
	var b core.BankAccount
	err := r.db.QueryRowContext(ctx, `
		SELECT bank_name, branch_name, account_type, account_number, account_holder
		FROM bank_accounts WHERE user_id = ?`, userID).
		Scan(&b.BankName, &b.BranchName, &b.AccountType, &b.AccountNumber, &b.AccountHolder)
	if err != nil {
		return core.BankAccount{}, fmt.Errorf("get bank account %s: %w", userID, notFound(err))
	}
	return b, nil
}

func (r *SQLiteRepository) UpsertMatching(ctx context.Context, m core.MatchingRecord) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("matching %s: %w", m.ID, err)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO matchings (id, user_id, company_name, amount, date, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_name = excluded.company_name,
			amount = excluded.amount,
			date = excluded.date,
			status = excluded.status
		WHERE matchings.user_id = excluded.user_id`,
		m.ID, m.UserID, m.CompanyName, int64(m.Amount), m.Date.String(), string(m.Status))
	if err != nil {
		return fmt.Errorf("upsert matching %s: %w", m.ID, err)
	}
	return nil
}

const matchingColumns = `id, user_id, company_name, amount, date, status`

// ListMatchings implements ports.MatchingReader
func (r *SQLiteRepository) ListMatchings(ctx context.Context, userID string) ([]core.MatchingRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+matchingColumns+` FROM matchings WHERE user_id = ? ORDER BY date, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list matchings: %w", err)
	}
	return scanMatchings(rows)
}

// GetMatchings implements ports.MatchingReader
func (r *SQLiteRepository) GetMatchings(ctx context.Context, userID string, ids []string) ([]core.MatchingRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+matchingColumns+` FROM matchings WHERE user_id = ? AND id IN (`+placeholders+`) ORDER BY date, id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("get matchings: %w", err)
	}
	return scanMatchings(rows)
}

func scanMatchings(rows *sql.Rows) ([]core.MatchingRecord, error) {
	defer rows.Close()

	var out []core.MatchingRecord
	for rows.Next() {
		var (
			m      core.MatchingRecord
			amount int64
			date   string
			status string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.CompanyName, &amount, &date, &status); err != nil {
			return nil, fmt.Errorf("scan matching: %w", err)
		}
		d, err := core.ParseDate(date)
		if err != nil {
			return nil, fmt.Errorf("matching %s: %w", m.ID, err)
		}
		m.Amount = core.Yen(amount)
		m.Date = d
		m.Status = core.MatchingStatus(status)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matchings: %w", err)
	}
	return out, nil
}

// SavePayment implements ports.PaymentStore
func (r *SQLiteRepository) SavePayment(ctx context.Context, p core.Payment) error {
	snapshot, err := json.Marshal(p.BankAccount)
	if err != nil {
		return fmt.Errorf("encode bank snapshot: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, user_id, month, invoice_number, total, bank_snapshot, issued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Month.String(), p.InvoiceNumber, int64(p.Total), string(snapshot),
		p.IssuedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	for i, id := range p.MatchingIDs {
		var other string
		err := tx.QueryRowContext(ctx, `SELECT payment_id FROM payment_matchings WHERE matching_id = ?`, id).Scan(&other)
		switch {
		case err == nil:
			return fmt.Errorf("matching %s is part of payment %s: %w", id, other, core.ErrAlreadyInvoiced)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check payment matching %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO payment_matchings (payment_id, matching_id, position) VALUES (?, ?, ?)`,
			p.ID, id, i); err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("matching %s: %w", id, core.ErrAlreadyInvoiced)
			}
			return fmt.Errorf("insert payment matching %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payment: %w", err)
	}

	slog.InfoContext(ctx, "Payment saved to SQLite",
		"id", p.ID,
		"invoice_number", p.InvoiceNumber,
		"total", int64(p.Total),
		"matchings", len(p.MatchingIDs))
	return nil
}

// isConstraintError reports a unique index violation, which is how a
// concurrent issuance of the same matching surfaces.
func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code&0xff == sqlite3.SQLITE_CONSTRAINT
}

// InvoicedMatchings implements ports.PaymentStore
func (r *SQLiteRepository) InvoicedMatchings(ctx context.Context, userID string, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := r.db.QueryContext(ctx, `
		SELECT pm.matching_id, pm.payment_id
		FROM payment_matchings pm JOIN payments p ON p.id = pm.payment_id
		WHERE p.user_id = ? AND pm.matching_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get invoiced matchings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mid, pid string
		if err := rows.Scan(&mid, &pid); err != nil {
			return nil, fmt.Errorf("scan invoiced matching: %w", err)
		}
		out[mid] = pid
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoiced matchings: %w", err)
	}
	return out, nil
}

// GetPayment implements ports.PaymentStore
func (r *SQLiteRepository) GetPayment(ctx context.Context, userID, id string) (core.Payment, error) {
	var (
		p                         core.Payment
		month, snapshot, issuedAt string
		total                     int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, month, invoice_number, total, bank_snapshot, issued_at
		FROM payments WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&p.ID, &p.UserID, &month, &p.InvoiceNumber, &total, &snapshot, &issuedAt)
	if err != nil {
		return core.Payment{}, fmt.Errorf("get payment %s: %w", id, notFound(err))
	}
	if p.Month, err = core.ParseMonthKey(month); err != nil {
		return core.Payment{}, fmt.Errorf("payment %s: %w", id, err)
	}
	if p.IssuedAt, err = time.Parse(time.RFC3339, issuedAt); err != nil {
		return core.Payment{}, fmt.Errorf("payment %s issued_at: %w", id, err)
	}
	if err := json.Unmarshal([]byte(snapshot), &p.BankAccount); err != nil {
		return core.Payment{}, fmt.Errorf("payment %s bank snapshot: %w", id, err)
	}
	p.Total = core.Yen(total)

	rows, err := r.db.QueryContext(ctx,
		`SELECT matching_id FROM payment_matchings WHERE payment_id = ? ORDER BY position`, id)
	if err != nil {
		return core.Payment{}, fmt.Errorf("get payment matchings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var mid string
		if err := rows.Scan(&mid); err != nil {
			return core.Payment{}, fmt.Errorf("scan payment matching: %w", err)
		}
		p.MatchingIDs = append(p.MatchingIDs, mid)
	}
	if err := rows.Err(); err != nil {
		return core.Payment{}, fmt.Errorf("iterate payment matchings: %w", err)
	}
	return p, nil
}
