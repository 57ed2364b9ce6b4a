package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/clearslip/clearslip/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS screenshots (
	id               TEXT PRIMARY KEY,
	tenant_id        TEXT NOT NULL,
	customer_id      TEXT,
	invoice_id       TEXT NOT NULL UNIQUE,
	ocr_text         TEXT NOT NULL,
	declared_amount  NUMERIC NOT NULL,
	currency         TEXT NOT NULL,
	bank_name        TEXT,
	recipient        TEXT,
	account          TEXT,
	status           TEXT NOT NULL DEFAULT 'pending',
	confidence_score DOUBLE PRECISION,
	uploaded_at      TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_trail (
	id                  TEXT PRIMARY KEY,
	invoice_id          TEXT NOT NULL,
	action              TEXT NOT NULL,
	previous_status     TEXT NOT NULL,
	new_status          TEXT NOT NULL,
	confidence_score    DOUBLE PRECISION,
	verified_by         TEXT NOT NULL,
	verification_method TEXT NOT NULL,
	notes               TEXT,
	created_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS customer_patterns (
	tenant_id   TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	doc         JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, customer_id)
);

CREATE INDEX IF NOT EXISTS idx_screenshots_status ON screenshots(status);
CREATE INDEX IF NOT EXISTS idx_screenshots_tenant ON screenshots(tenant_id);
CREATE INDEX IF NOT EXISTS idx_audit_trail_invoice ON audit_trail(invoice_id);
CREATE INDEX IF NOT EXISTS idx_audit_trail_created ON audit_trail(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateScreenshot(ctx context.Context, sc *model.PaymentScreenshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO screenshots
		 (id, tenant_id, customer_id, invoice_id, ocr_text, declared_amount, currency,
		  bank_name, recipient, account, status, confidence_score, uploaded_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		sc.ID, sc.TenantID, textOrNil(sc.CustomerID), sc.InvoiceID, sc.OCRText,
		sc.DeclaredAmount.String(), sc.Currency,
		textOrNil(sc.BankName), textOrNil(sc.Recipient), textOrNil(sc.Account),
		string(sc.Status), sc.ConfidenceScore, sc.UploadedAt, sc.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert screenshot for invoice %s", sc.InvoiceID)
}

func (s *PostgresStore) GetScreenshotByInvoice(ctx context.Context, invoiceID string) (*model.PaymentScreenshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, customer_id, invoice_id, ocr_text, declared_amount::text, currency,
		        bank_name, recipient, account, status, confidence_score, uploaded_at, updated_at
		 FROM screenshots WHERE invoice_id = $1`,
		invoiceID,
	)
	return scanPGScreenshot(row)
}

func (s *PostgresStore) ListPending(ctx context.Context, filter PendingFilter) ([]model.PendingVerification, error) {
	query := `SELECT invoice_id, tenant_id, customer_id, status, bank_name, recipient, account,
	                 declared_amount::text, currency, confidence_score, uploaded_at
	          FROM screenshots WHERE status = ANY($1)`
	args := []any{[]string{string(model.StatusPending), string(model.StatusManualReview)}}

	if filter.TenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, filter.TenantID)
	}
	query += ` ORDER BY uploaded_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Skip > 0 {
		args = append(args, filter.Skip)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending")
	}
	defer rows.Close()

	var pending []model.PendingVerification
	for rows.Next() {
		var p model.PendingVerification
		var customerID, bankName, recipient, account *string
		var amount string
		var score *float64
		if err := rows.Scan(&p.InvoiceID, &p.TenantID, &customerID, &p.Status, &bankName,
			&recipient, &account, &amount, &p.Currency, &score, &p.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending")
		}
		p.CustomerID = deref(customerID)
		p.BankName = deref(bankName)
		p.Recipient = deref(recipient)
		p.Account = deref(account)
		p.ConfidenceScore = score
		if p.DeclaredAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, eris.Wrapf(err, "postgres: parse amount for invoice %s", p.InvoiceID)
		}
		pending = append(pending, p)
	}
	return pending, eris.Wrap(rows.Err(), "postgres: list pending iterate")
}

func (s *PostgresStore) ApplyDecision(ctx context.Context, invoiceID string, expected, next model.VerificationStatus, update DecisionUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE screenshots
		 SET status = $1, bank_name = $2, recipient = $3, account = $4, confidence_score = $5, updated_at = now()
		 WHERE invoice_id = $6 AND status = $7`,
		string(next), textOrNil(update.BankName), textOrNil(update.Recipient),
		textOrNil(update.Account), update.ConfidenceScore, invoiceID, string(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply decision for invoice %s", invoiceID)
	}
	return s.checkTransition(ctx, tag, invoiceID)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, invoiceID string, expected, next model.VerificationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE screenshots SET status = $1, updated_at = now() WHERE invoice_id = $2 AND status = $3`,
		string(next), invoiceID, string(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status for invoice %s", invoiceID)
	}
	return s.checkTransition(ctx, tag, invoiceID)
}

func (s *PostgresStore) checkTransition(ctx context.Context, tag pgconn.CommandTag, invoiceID string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetScreenshotByInvoice(ctx, invoiceID); err != nil {
		return err
	}
	return eris.Wrapf(ErrConflict, "invoice %s", invoiceID)
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry *model.AuditTrailEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_trail
		 (id, invoice_id, action, previous_status, new_status, confidence_score,
		  verified_by, verification_method, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.InvoiceID, string(entry.Action), string(entry.PreviousStatus),
		string(entry.NewStatus), entry.ConfidenceScore, entry.VerifiedBy,
		string(entry.Method), textOrNil(entry.Notes), entry.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append audit for invoice %s", entry.InvoiceID)
}

func (s *PostgresStore) ListAudit(ctx context.Context, invoiceID string) ([]model.AuditTrailEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, invoice_id, action, previous_status, new_status, confidence_score,
		        verified_by, verification_method, notes, created_at
		 FROM audit_trail WHERE invoice_id = $1 ORDER BY created_at ASC, id ASC`,
		invoiceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var entries []model.AuditTrailEntry
	for rows.Next() {
		var e model.AuditTrailEntry
		var notes *string
		if err := rows.Scan(&e.ID, &e.InvoiceID, &e.Action, &e.PreviousStatus, &e.NewStatus,
			&e.ConfidenceScore, &e.VerifiedBy, &e.Method, &notes, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		e.Notes = deref(notes)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

func (s *PostgresStore) StatsSince(ctx context.Context, since time.Time) ([]model.StatsBucket, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT action, verification_method, COUNT(*), AVG(confidence_score)
		 FROM audit_trail WHERE created_at >= $1
		 GROUP BY action, verification_method
		 ORDER BY action, verification_method`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats query")
	}
	defer rows.Close()

	var buckets []model.StatsBucket
	for rows.Next() {
		var b model.StatsBucket
		var count int64
		if err := rows.Scan(&b.Action, &b.Method, &count, &b.AvgConfidence); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats bucket")
		}
		b.Count = int(count)
		buckets = append(buckets, b)
	}
	return buckets, eris.Wrap(rows.Err(), "postgres: stats iterate")
}

func (s *PostgresStore) GetCustomerPattern(ctx context.Context, tenantID, customerID string) (*model.CustomerPattern, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM customer_patterns WHERE tenant_id = $1 AND customer_id = $2`,
		tenantID, customerID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get customer pattern")
	}
	var cp model.CustomerPattern
	if err := json.Unmarshal(doc, &cp); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal customer pattern")
	}
	return &cp, nil
}

func (s *PostgresStore) UpsertCustomerPattern(ctx context.Context, cp *model.CustomerPattern) error {
	doc, err := json.Marshal(cp)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal customer pattern")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO customer_patterns (tenant_id, customer_id, doc, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, customer_id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		cp.TenantID, cp.CustomerID, doc, cp.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert customer pattern")
}

func (s *PostgresStore) ListVerifiedTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT tenant_id FROM screenshots WHERE status = $1 ORDER BY tenant_id`,
		string(model.StatusVerified),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list verified tenants")
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tenant")
		}
		tenants = append(tenants, t)
	}
	return tenants, eris.Wrap(rows.Err(), "postgres: list verified tenants iterate")
}

func (s *PostgresStore) ListVerifiedScreenshots(ctx context.Context, tenantID string) ([]model.PaymentScreenshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, customer_id, invoice_id, ocr_text, declared_amount::text, currency,
		        bank_name, recipient, account, status, confidence_score, uploaded_at, updated_at
		 FROM screenshots WHERE tenant_id = $1 AND status = $2 ORDER BY uploaded_at ASC`,
		tenantID, string(model.StatusVerified),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list verified screenshots")
	}
	defer rows.Close()

	var out []model.PaymentScreenshot
	for rows.Next() {
		sc, err := scanPGScreenshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list verified iterate")
}

// helpers

type pgScannable interface {
	Scan(dest ...any) error
}

func scanPGScreenshot(row pgScannable) (*model.PaymentScreenshot, error) {
	var sc model.PaymentScreenshot
	var customerID, bankName, recipient, account *string
	var amount string
	var score *float64

	err := row.Scan(&sc.ID, &sc.TenantID, &customerID, &sc.InvoiceID, &sc.OCRText,
		&amount, &sc.Currency, &bankName, &recipient, &account, &sc.Status, &score,
		&sc.UploadedAt, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan screenshot")
	}

	sc.CustomerID = deref(customerID)
	sc.BankName = deref(bankName)
	sc.Recipient = deref(recipient)
	sc.Account = deref(account)
	sc.ConfidenceScore = score
	if sc.DeclaredAmount, err = decimal.NewFromString(amount); err != nil {
		return nil, eris.Wrapf(err, "postgres: parse amount for invoice %s", sc.InvoiceID)
	}
	return &sc, nil
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
