package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/clearslip/clearslip/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS screenshots (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	customer_id      TEXT,
	invoice_id       TEXT NOT NULL UNIQUE,
	ocr_text         TEXT NOT NULL,
	declared_amount  TEXT NOT NULL,
	currency         TEXT NOT NULL,
	bank_name        TEXT,
	recipient        TEXT,
	account          TEXT,
	status           TEXT NOT NULL DEFAULT 'pending',
	confidence_score REAL,
	uploaded_at      DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_trail (
	id                  TEXT PRIMARY KEY,
	invoice_id          TEXT NOT NULL,
	action              TEXT NOT NULL,
	previous_status     TEXT NOT NULL,
	new_status          TEXT NOT NULL,
	confidence_score    REAL,
	verified_by         TEXT NOT NULL,
	verification_method TEXT NOT NULL,
	notes               TEXT,
	created_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS customer_patterns (
	tenant_id   TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	doc         TEXT NOT NULL,
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (tenant_id, customer_id)
);

CREATE INDEX IF NOT EXISTS idx_screenshots_status ON screenshots(status);
CREATE INDEX IF NOT EXISTS idx_screenshots_tenant ON screenshots(tenant_id);
CREATE INDEX IF NOT EXISTS idx_audit_trail_invoice ON audit_trail(invoice_id);
CREATE INDEX IF NOT EXISTS idx_audit_trail_created ON audit_trail(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateScreenshot(ctx context.Context, sc *model.PaymentScreenshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO screenshots
		 (id, tenant_id, customer_id, invoice_id, ocr_text, declared_amount, currency,
		  bank_name, recipient, account, status, confidence_score, uploaded_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.TenantID, nullString(sc.CustomerID), sc.InvoiceID, sc.OCRText,
		sc.DeclaredAmount.String(), sc.Currency,
		nullString(sc.BankName), nullString(sc.Recipient), nullString(sc.Account),
		string(sc.Status), nullFloat(sc.ConfidenceScore), sc.UploadedAt, sc.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert screenshot for invoice %s", sc.InvoiceID)
}

func (s *SQLiteStore) GetScreenshotByInvoice(ctx context.Context, invoiceID string) (*model.PaymentScreenshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, customer_id, invoice_id, ocr_text, declared_amount, currency,
		        bank_name, recipient, account, status, confidence_score, uploaded_at, updated_at
		 FROM screenshots WHERE invoice_id = ?`,
		invoiceID,
	)
	return scanScreenshot(row)
}

func (s *SQLiteStore) ListPending(ctx context.Context, filter PendingFilter) ([]model.PendingVerification, error) {
	query := `SELECT invoice_id, tenant_id, customer_id, status, bank_name, recipient, account,
	                 declared_amount, currency, confidence_score, uploaded_at
	          FROM screenshots WHERE status IN (?, ?)`
	args := []any{string(model.StatusPending), string(model.StatusManualReview)}

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	query += ` ORDER BY uploaded_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Skip > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Skip)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending")
	}
	defer rows.Close()

	var pending []model.PendingVerification
	for rows.Next() {
		var p model.PendingVerification
		var customerID, bankName, recipient, account sql.NullString
		var amount string
		var score sql.NullFloat64
		if err := rows.Scan(&p.InvoiceID, &p.TenantID, &customerID, &p.Status, &bankName,
			&recipient, &account, &amount, &p.Currency, &score, &p.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending")
		}
		p.CustomerID = customerID.String
		p.BankName = bankName.String
		p.Recipient = recipient.String
		p.Account = account.String
		if p.DeclaredAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse amount for invoice %s", p.InvoiceID)
		}
		if score.Valid {
			v := score.Float64
			p.ConfidenceScore = &v
		}
		pending = append(pending, p)
	}
	return pending, eris.Wrap(rows.Err(), "sqlite: list pending iterate")
}

func (s *SQLiteStore) ApplyDecision(ctx context.Context, invoiceID string, expected, next model.VerificationStatus, update DecisionUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE screenshots
		 SET status = ?, bank_name = ?, recipient = ?, account = ?, confidence_score = ?, updated_at = ?
		 WHERE invoice_id = ? AND status = ?`,
		string(next), nullString(update.BankName), nullString(update.Recipient),
		nullString(update.Account), nullFloat(update.ConfidenceScore), time.Now().UTC(),
		invoiceID, string(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply decision for invoice %s", invoiceID)
	}
	return s.checkTransition(ctx, res, invoiceID)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, invoiceID string, expected, next model.VerificationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE screenshots SET status = ?, updated_at = ? WHERE invoice_id = ? AND status = ?`,
		string(next), time.Now().UTC(), invoiceID, string(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status for invoice %s", invoiceID)
	}
	return s.checkTransition(ctx, res, invoiceID)
}

// checkTransition disambiguates a zero-row CAS update: missing invoice is
// ErrNotFound, an invoice whose status moved underneath us is ErrConflict.
func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, invoiceID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetScreenshotByInvoice(ctx, invoiceID); err != nil {
		return err
	}
	return eris.Wrapf(ErrConflict, "invoice %s", invoiceID)
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *model.AuditTrailEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_trail
		 (id, invoice_id, action, previous_status, new_status, confidence_score,
		  verified_by, verification_method, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.InvoiceID, string(entry.Action), string(entry.PreviousStatus),
		string(entry.NewStatus), nullFloat(entry.ConfidenceScore), entry.VerifiedBy,
		string(entry.Method), nullString(entry.Notes), entry.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append audit for invoice %s", entry.InvoiceID)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, invoiceID string) ([]model.AuditTrailEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, invoice_id, action, previous_status, new_status, confidence_score,
		        verified_by, verification_method, notes, created_at
		 FROM audit_trail WHERE invoice_id = ? ORDER BY created_at ASC, id ASC`,
		invoiceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var entries []model.AuditTrailEntry
	for rows.Next() {
		var e model.AuditTrailEntry
		var score sql.NullFloat64
		var notes sql.NullString
		if err := rows.Scan(&e.ID, &e.InvoiceID, &e.Action, &e.PreviousStatus, &e.NewStatus,
			&score, &e.VerifiedBy, &e.Method, &notes, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		if score.Valid {
			v := score.Float64
			e.ConfidenceScore = &v
		}
		e.Notes = notes.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

func (s *SQLiteStore) StatsSince(ctx context.Context, since time.Time) ([]model.StatsBucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, verification_method, COUNT(*), AVG(confidence_score)
		 FROM audit_trail WHERE created_at >= ?
		 GROUP BY action, verification_method
		 ORDER BY action, verification_method`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats query")
	}
	defer rows.Close()

	var buckets []model.StatsBucket
	for rows.Next() {
		var b model.StatsBucket
		var avg sql.NullFloat64
		if err := rows.Scan(&b.Action, &b.Method, &b.Count, &avg); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats bucket")
		}
		if avg.Valid {
			v := avg.Float64
			b.AvgConfidence = &v
		}
		buckets = append(buckets, b)
	}
	return buckets, eris.Wrap(rows.Err(), "sqlite: stats iterate")
}

func (s *SQLiteStore) GetCustomerPattern(ctx context.Context, tenantID, customerID string) (*model.CustomerPattern, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM customer_patterns WHERE tenant_id = ? AND customer_id = ?`,
		tenantID, customerID,
	)
	var doc string
	err := row.Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get customer pattern")
	}
	var cp model.CustomerPattern
	if err := json.Unmarshal([]byte(doc), &cp); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal customer pattern")
	}
	return &cp, nil
}

func (s *SQLiteStore) UpsertCustomerPattern(ctx context.Context, cp *model.CustomerPattern) error {
	doc, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal customer pattern")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO customer_patterns (tenant_id, customer_id, doc, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (tenant_id, customer_id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		cp.TenantID, cp.CustomerID, string(doc), cp.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: upsert customer pattern")
}

func (s *SQLiteStore) ListVerifiedTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM screenshots WHERE status = ? ORDER BY tenant_id`,
		string(model.StatusVerified),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list verified tenants")
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tenant")
		}
		tenants = append(tenants, t)
	}
	return tenants, eris.Wrap(rows.Err(), "sqlite: list verified tenants iterate")
}

func (s *SQLiteStore) ListVerifiedScreenshots(ctx context.Context, tenantID string) ([]model.PaymentScreenshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, customer_id, invoice_id, ocr_text, declared_amount, currency,
		        bank_name, recipient, account, status, confidence_score, uploaded_at, updated_at
		 FROM screenshots WHERE tenant_id = ? AND status = ? ORDER BY uploaded_at ASC`,
		tenantID, string(model.StatusVerified),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list verified screenshots")
	}
	defer rows.Close()

	var out []model.PaymentScreenshot
	for rows.Next() {
		sc, err := scanScreenshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list verified iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanScreenshot(row scannable) (*model.PaymentScreenshot, error) {
	var sc model.PaymentScreenshot
	var customerID, bankName, recipient, account sql.NullString
	var amount string
	var score sql.NullFloat64

	err := row.Scan(&sc.ID, &sc.TenantID, &customerID, &sc.InvoiceID, &sc.OCRText,
		&amount, &sc.Currency, &bankName, &recipient, &account, &sc.Status, &score,
		&sc.UploadedAt, &sc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan screenshot")
	}

	sc.CustomerID = customerID.String
	sc.BankName = bankName.String
	sc.Recipient = recipient.String
	sc.Account = account.String
	if sc.DeclaredAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse amount for invoice %s", sc.InvoiceID)
	}
	if score.Valid {
		v := score.Float64
		sc.ConfidenceScore = &v
	}
	return &sc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
