/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements rewards.TxStore (and with it ledger.Store) on SQLite. The
  same queries run on the plain connection and inside WithTx, so a
  redemption's reads and writes share one database transaction.

INTERFACES IMPLEMENTED:
  ledger.Store:    Points ledger persistence
  rewards.Store:   Tenants, customers, rewards, redemptions, vouchers
  rewards.TxStore: WithTx for atomic multi-step operations

APPEND-ONLY ENFORCEMENT:
  The transactions table is never deleted from. The only UPDATE is the
  status column of a PENDING row, guarded by "AND status = 'PENDING'".
  Corrections are new rows (VOID reversals, REFUND entries).

KEY TABLES:
  tenants:      Partners and their points configuration JSON
  customers:    Customers and the display-only cached points counter
  transactions: Immutable ledger of point deltas
  rewards:      Reward catalog with approval state
  redemptions:  Points-for-reward exchanges (cost snapshot)
  vouchers:     Codes issued for redemptions

INDEXES:
  - idx_transactions_customer: Balance fold (hot path)
  - idx_transactions_idempotency: Unique, enforces idempotency keys
  - idx_transactions_reference: Reversal lookups
  - idx_vouchers_customer_status: Expiry sweep and voucher listing

CONCURRENCY:
  The pool is limited to one connection and WithTx holds a mutex, so
  transactions are serialized. A redemption's balance check and its
  SPENT entry can never interleave with another redemption's.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better crash
  recovery and so readers outside the process don't block the writer.

TIMESTAMPS AND AMOUNTS:
  Times are stored as fixed-width UTC text (timeLayout) so that string
  comparison in SQL orders them correctly. Purchase amounts are decimal
  strings.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := rewards.NewEngine(store, cache.Nop{}, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Ledger persistence interface
  - rewards/store.go: Engine persistence interface
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/rewards"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement. Store runs them on the pool, txStore on
// an open transaction.
type queries struct {
	q querier
}

// Store implements rewards.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

var (
	_ rewards.TxStore = (*Store)(nil)
	_ rewards.Store   = (*txStore)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := NewFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewFromDB wraps an already opened database and migrates it.
func NewFromDB(db *sql.DB) (*Store, error) {
	// A :memory: database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Tenants (partners)
	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL UNIQUE,
		points_config TEXT NOT NULL,
		require_reward_approval BOOLEAN DEFAULT FALSE,
		require_purchase_approval BOOLEAN DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Customers
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		mobile TEXT,
		display_id TEXT NOT NULL UNIQUE,
		qr_code_id TEXT NOT NULL UNIQUE,
		tenant_id TEXT REFERENCES tenants(id),
		cached_points INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		tenant_id TEXT,
		recorded_by TEXT,
		tx_type TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '0',
		points INTEGER NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Balance fold (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_customer
		ON transactions(customer_id, created_at);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_transactions_status
		ON transactions(status);

	-- Reward catalog
	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL REFERENCES tenants(id),
		name TEXT NOT NULL,
		description TEXT,
		points INTEGER NOT NULL,
		active BOOLEAN DEFAULT TRUE,
		approval_status TEXT NOT NULL DEFAULT 'NONE',
		approved_by TEXT,
		approved_at TEXT,
		rejection_reason TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rewards_tenant
		ON rewards(tenant_id);

	-- Redemptions
	CREATE TABLE IF NOT EXISTS redemptions (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		reward_id TEXT NOT NULL REFERENCES rewards(id),
		tenant_id TEXT NOT NULL,
		points INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_redemptions_reward
		ON redemptions(reward_id);

	-- Vouchers (one per redemption)
	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		redemption_id TEXT NOT NULL UNIQUE REFERENCES redemptions(id),
		reward_id TEXT NOT NULL REFERENCES rewards(id),
		customer_id TEXT NOT NULL REFERENCES customers(id),
		tenant_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		expires_at TEXT NOT NULL,
		used_at TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vouchers_customer_status
		ON vouchers(customer_id, status, expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (rewards.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store rewards.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{q: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	queries
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

const transactionColumns = `
	id, customer_id, tenant_id, recorded_by, tx_type, status, amount, points,
	reference_id, reason, idempotency_key, created_at, updated_at`

// AppendTransaction adds an entry to the ledger.
func (s queries) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.q.ExecContext(ctx, query,
		tx.ID,
		tx.CustomerID,
		nullString(tx.TenantID),
		nullString(tx.RecordedBy),
		string(tx.Type),
		string(tx.Status),
		tx.Amount.String(),
		tx.Points,
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		formatTime(tx.CreatedAt),
		formatTime(tx.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

// GetTransaction returns a specific transaction by ID.
func (s queries) GetTransaction(ctx context.Context, id string) (*ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// CustomerTransactions returns every entry for a customer, oldest first.
func (s queries) CustomerTransactions(ctx context.Context, customerID string) ([]ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE customer_id = ?
		ORDER BY created_at ASC, rowid ASC`

	return s.queryTransactions(ctx, query, customerID)
}

// ReferencingTransactions returns entries pointing at refID.
func (s queries) ReferencingTransactions(ctx context.Context, refID string) ([]ledger.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE reference_id = ?
		ORDER BY created_at ASC, rowid ASC`

	return s.queryTransactions(ctx, query, refID)
}

// TransactionExists checks if an idempotency key exists.
func (s queries) TransactionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM transactions WHERE idempotency_key = ?`, idempotencyKey)
}

// UpdateTransactionStatus moves a PENDING entry to its final status.
func (s queries) UpdateTransactionStatus(ctx context.Context, id string, status ledger.TxStatus, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), formatTime(at), id, string(ledger.StatusPending))
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction %s is not pending", ledger.ErrInvalidTransition, id)
	}
	return nil
}

// CustomerExists reports whether the customer row exists.
func (s queries) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM customers WHERE id = ?`, customerID)
}

func (s queries) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		tx             ledger.Transaction
		tenantID       sql.NullString
		recordedBy     sql.NullString
		txType         string
		status         string
		amount         string
		referenceID    sql.NullString
		reason         sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
		updatedAt      string
	)

	err := row.Scan(
		&tx.ID, &tx.CustomerID, &tenantID, &recordedBy, &txType, &status,
		&amount, &tx.Points, &referenceID, &reason, &idempotencyKey,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx.TenantID = tenantID.String
	tx.RecordedBy = recordedBy.String
	tx.Type = ledger.TxType(txType)
	tx.Status = ledger.TxStatus(status)
	tx.Amount = parseDecimal(amount)
	tx.ReferenceID = referenceID.String
	tx.Reason = reason.String
	tx.IdempotencyKey = idempotencyKey.String
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)
	return tx, nil
}

// =============================================================================
// TENANT STORE
// =============================================================================

const tenantColumns = `
	id, name, slug, points_config, require_reward_approval,
	require_purchase_approval, created_at, updated_at`

// CreateTenant inserts a tenant. A taken slug is ErrConflict.
func (s queries) CreateTenant(ctx context.Context, t rewards.Tenant) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO tenants (`+tenantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Slug, t.PointsConfig,
		t.RequireRewardApproval, t.RequirePurchaseApproval,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: tenant slug %s", ledger.ErrConflict, t.Slug)
		}
		return fmt.Errorf("failed to save tenant: %w", err)
	}
	return nil
}

// GetTenant retrieves a tenant by ID.
func (s queries) GetTenant(ctx context.Context, id string) (*rewards.Tenant, error) {
	return s.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
}

// GetTenantBySlug retrieves a tenant by its slug.
func (s queries) GetTenantBySlug(ctx context.Context, slug string) (*rewards.Tenant, error) {
	return s.getTenant(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE slug = ?`, slug)
}

func (s queries) getTenant(ctx context.Context, query string, arg string) (*rewards.Tenant, error) {
	t, err := scanTenant(s.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTenants returns all tenants by name.
func (s queries) ListTenants(ctx context.Context) ([]rewards.Tenant, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []rewards.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// UpdateTenantPointsConfig replaces the tenant's configuration JSON.
func (s queries) UpdateTenantPointsConfig(ctx context.Context, id, config string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE tenants SET points_config = ?, updated_at = ? WHERE id = ?`,
		config, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to update points config: %w", err)
	}
	return requireRow(res, ledger.ErrTenantNotFound)
}

func scanTenant(row scanner) (rewards.Tenant, error) {
	var (
		t                    rewards.Tenant
		createdAt, updatedAt string
	)
	err := row.Scan(&t.ID, &t.Name, &t.Slug, &t.PointsConfig,
		&t.RequireRewardApproval, &t.RequirePurchaseApproval, &createdAt, &updatedAt)
	if err != nil {
		return t, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

// =============================================================================
// CUSTOMER STORE
// =============================================================================

const customerColumns = `
	id, email, name, mobile, display_id, qr_code_id, tenant_id,
	cached_points, created_at, updated_at`

// CreateCustomer inserts a customer. A taken email or display id is
// ErrConflict.
func (s queries) CreateCustomer(ctx context.Context, c rewards.Customer) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Email, c.Name, nullString(c.Mobile), c.DisplayID, c.QRCodeID,
		nullString(c.TenantID), c.CachedPoints,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: customer %s", ledger.ErrConflict, c.Email)
		}
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

// GetCustomer retrieves a customer by ID.
func (s queries) GetCustomer(ctx context.Context, id string) (*rewards.Customer, error) {
	return s.getCustomer(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
}

// GetCustomerByEmail retrieves a customer by (lower-case) email.
func (s queries) GetCustomerByEmail(ctx context.Context, email string) (*rewards.Customer, error) {
	return s.getCustomer(ctx, `SELECT `+customerColumns+` FROM customers WHERE email = ?`, email)
}

func (s queries) getCustomer(ctx context.Context, query, arg string) (*rewards.Customer, error) {
	c, err := scanCustomer(s.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// DisplayIDExists reports whether a display id is taken.
func (s queries) DisplayIDExists(ctx context.Context, displayID string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM customers WHERE display_id = ?`, displayID)
}

// ListCustomers returns all customers, newest first.
func (s queries) ListCustomers(ctx context.Context) ([]rewards.Customer, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []rewards.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// AdjustCachedPoints moves the display counter by delta, never below zero.
func (s queries) AdjustCachedPoints(ctx context.Context, customerID string, delta int64, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE customers SET cached_points = MAX(0, cached_points + ?), updated_at = ? WHERE id = ?`,
		delta, formatTime(at), customerID)
	if err != nil {
		return fmt.Errorf("failed to adjust cached points: %w", err)
	}
	return requireRow(res, ledger.ErrCustomerNotFound)
}

// SetCachedPoints overwrites the display counter.
func (s queries) SetCachedPoints(ctx context.Context, customerID string, points int64, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE customers SET cached_points = ?, updated_at = ? WHERE id = ?`,
		points, formatTime(at), customerID)
	if err != nil {
		return fmt.Errorf("failed to set cached points: %w", err)
	}
	return requireRow(res, ledger.ErrCustomerNotFound)
}

func scanCustomer(row scanner) (rewards.Customer, error) {
	var (
		c                    rewards.Customer
		mobile, tenantID     sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.Email, &c.Name, &mobile, &c.DisplayID, &c.QRCodeID,
		&tenantID, &c.CachedPoints, &createdAt, &updatedAt)
	if err != nil {
		return c, err
	}
	c.Mobile = mobile.String
	c.TenantID = tenantID.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

// =============================================================================
// REWARD STORE
// =============================================================================

const rewardColumns = `
	id, tenant_id, name, description, points, active, approval_status,
	approved_by, approved_at, rejection_reason, created_by, created_at, updated_at`

// CreateReward inserts a catalog entry.
func (s queries) CreateReward(ctx context.Context, r rewards.Reward) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO rewards (`+rewardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.Name, nullString(r.Description), r.Points, r.Active,
		string(r.ApprovalStatus), nullString(r.ApprovedBy), nullTime(r.ApprovedAt),
		nullString(r.RejectionReason), nullString(r.CreatedBy),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save reward: %w", err)
	}
	return nil
}

// GetReward retrieves a reward by ID.
func (s queries) GetReward(ctx context.Context, id string) (*rewards.Reward, error) {
	r, err := scanReward(s.q.QueryRowContext(ctx,
		`SELECT `+rewardColumns+` FROM rewards WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRewards returns a tenant's catalog, cheapest first.
func (s queries) ListRewards(ctx context.Context, tenantID string) ([]rewards.Reward, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+rewardColumns+` FROM rewards
		WHERE tenant_id = ?
		ORDER BY points ASC, name ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var out []rewards.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRewardApproval saves the approval fields of r.
func (s queries) UpdateRewardApproval(ctx context.Context, r rewards.Reward) error {
	res, err := s.q.ExecContext(ctx, `UPDATE rewards
		SET approval_status = ?, approved_by = ?, approved_at = ?, rejection_reason = ?, updated_at = ?
		WHERE id = ?`,
		string(r.ApprovalStatus), nullString(r.ApprovedBy), nullTime(r.ApprovedAt),
		nullString(r.RejectionReason), formatTime(r.UpdatedAt), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update reward: %w", err)
	}
	return requireRow(res, ledger.ErrRewardNotFound)
}

// RewardHasRedemptions reports whether any redemption references the reward.
func (s queries) RewardHasRedemptions(ctx context.Context, rewardID string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM redemptions WHERE reward_id = ?`, rewardID)
}

// DeleteReward removes a reward.
func (s queries) DeleteReward(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM rewards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reward: %w", err)
	}
	return requireRow(res, ledger.ErrRewardNotFound)
}

func scanReward(row scanner) (rewards.Reward, error) {
	var (
		r                              rewards.Reward
		description, approvedBy        sql.NullString
		rejection, createdBy           sql.NullString
		approvedAt                     sql.NullString
		approval, createdAt, updatedAt string
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Name, &description, &r.Points, &r.Active,
		&approval, &approvedBy, &approvedAt, &rejection, &createdBy, &createdAt, &updatedAt)
	if err != nil {
		return r, err
	}
	r.Description = description.String
	r.ApprovalStatus = rewards.ApprovalStatus(approval)
	r.ApprovedBy = approvedBy.String
	r.ApprovedAt = parseNullTime(approvedAt)
	r.RejectionReason = rejection.String
	r.CreatedBy = createdBy.String
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// REDEMPTION STORE
// =============================================================================

// CreateRedemption inserts a redemption.
func (s queries) CreateRedemption(ctx context.Context, r rewards.Redemption) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO redemptions
		(id, customer_id, reward_id, tenant_id, points, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.CustomerID, r.RewardID, r.TenantID, r.Points, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save redemption: %w", err)
	}
	return nil
}

// GetRedemption retrieves a redemption by ID.
func (s queries) GetRedemption(ctx context.Context, id string) (*rewards.Redemption, error) {
	var (
		r         rewards.Redemption
		createdAt string
	)
	err := s.q.QueryRowContext(ctx, `SELECT id, customer_id, reward_id, tenant_id, points, created_at
		FROM redemptions WHERE id = ?`, id).
		Scan(&r.ID, &r.CustomerID, &r.RewardID, &r.TenantID, &r.Points, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get redemption: %w", err)
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

// DeleteRedemption removes a redemption. Its voucher must be deleted first.
func (s queries) DeleteRedemption(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM redemptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete redemption: %w", err)
	}
	return requireRow(res, ledger.ErrVoucherNotFound)
}

// =============================================================================
// VOUCHER STORE
// =============================================================================

const voucherColumns = `
	v.id, v.code, v.redemption_id, v.reward_id, v.customer_id, v.tenant_id,
	v.status, v.expires_at, v.used_at, v.created_at`

// CreateVoucher inserts a voucher. A taken code is ErrConflict.
func (s queries) CreateVoucher(ctx context.Context, v rewards.Voucher) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO vouchers
		(id, code, redemption_id, reward_id, customer_id, tenant_id, status, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Code, v.RedemptionID, v.RewardID, v.CustomerID, v.TenantID,
		string(v.Status), formatTime(v.ExpiresAt), nullTime(v.UsedAt), formatTime(v.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: voucher code %s", ledger.ErrConflict, v.Code)
		}
		return fmt.Errorf("failed to save voucher: %w", err)
	}
	return nil
}

// GetVoucher retrieves a voucher by ID.
func (s queries) GetVoucher(ctx context.Context, id string) (*rewards.Voucher, error) {
	v, err := scanVoucher(s.q.QueryRowContext(ctx,
		`SELECT `+voucherColumns+` FROM vouchers v WHERE v.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// VoucherCodeExists reports whether a code is taken.
func (s queries) VoucherCodeExists(ctx context.Context, code string) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM vouchers WHERE code = ?`, code)
}

// ListVoucherDetails returns the customer's vouchers with their reward and
// redemption, newest first.
func (s queries) ListVoucherDetails(ctx context.Context, customerID string) ([]rewards.VoucherDetail, error) {
	query := `SELECT ` + voucherColumns + `,
		` + prefixed("r", rewardColumns) + `,
		d.id, d.customer_id, d.reward_id, d.tenant_id, d.points, d.created_at
		FROM vouchers v
		JOIN rewards r ON r.id = v.reward_id
		JOIN redemptions d ON d.id = v.redemption_id
		WHERE v.customer_id = ?
		ORDER BY v.created_at DESC, v.rowid DESC`

	rows, err := s.q.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vouchers: %w", err)
	}
	defer rows.Close()

	var out []rewards.VoucherDetail
	for rows.Next() {
		var (
			d                         rewards.VoucherDetail
			vStatus, vExpires         string
			vCreated, dCreated        string
			rApproval                 string
			rCreated, rUpdated        string
			vUsedAt, rApprovedAt      sql.NullString
			rDescription, rApprovedBy sql.NullString
			rRejection, rBy           sql.NullString
		)
		err := rows.Scan(
			&d.Voucher.ID, &d.Voucher.Code, &d.Voucher.RedemptionID, &d.Voucher.RewardID,
			&d.Voucher.CustomerID, &d.Voucher.TenantID, &vStatus, &vExpires, &vUsedAt, &vCreated,
			&d.Reward.ID, &d.Reward.TenantID, &d.Reward.Name, &rDescription, &d.Reward.Points,
			&d.Reward.Active, &rApproval, &rApprovedBy, &rApprovedAt, &rRejection, &rBy,
			&rCreated, &rUpdated,
			&d.Redemption.ID, &d.Redemption.CustomerID, &d.Redemption.RewardID,
			&d.Redemption.TenantID, &d.Redemption.Points, &dCreated,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		d.Voucher.Status = rewards.VoucherStatus(vStatus)
		d.Voucher.ExpiresAt = parseTime(vExpires)
		d.Voucher.UsedAt = parseNullTime(vUsedAt)
		d.Voucher.CreatedAt = parseTime(vCreated)
		d.Reward.Description = rDescription.String
		d.Reward.ApprovalStatus = rewards.ApprovalStatus(rApproval)
		d.Reward.ApprovedBy = rApprovedBy.String
		d.Reward.ApprovedAt = parseNullTime(rApprovedAt)
		d.Reward.RejectionReason = rRejection.String
		d.Reward.CreatedBy = rBy.String
		d.Reward.CreatedAt = parseTime(rCreated)
		d.Reward.UpdatedAt = parseTime(rUpdated)
		d.Redemption.CreatedAt = parseTime(dCreated)
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkVoucherUsed moves an active voucher to used.
func (s queries) MarkVoucherUsed(ctx context.Context, id string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE vouchers SET status = ?, used_at = ? WHERE id = ? AND status = ?`,
		string(rewards.VoucherUsed), formatTime(at), id, string(rewards.VoucherActive))
	if err != nil {
		return fmt.Errorf("failed to mark voucher used: %w", err)
	}
	return requireRow(res, ledger.ErrVoucherNotUsable)
}

// ExpireVouchers moves active vouchers past expiry to expired. An empty
// customerID sweeps every customer.
func (s queries) ExpireVouchers(ctx context.Context, customerID string, now time.Time) (int64, error) {
	query := `UPDATE vouchers SET status = ? WHERE status = ? AND expires_at < ?`
	args := []any{string(rewards.VoucherExpired), string(rewards.VoucherActive), formatTime(now)}
	if customerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, customerID)
	}
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to expire vouchers: %w", err)
	}
	return res.RowsAffected()
}

// DeleteVoucher removes a voucher.
func (s queries) DeleteVoucher(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM vouchers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete voucher: %w", err)
	}
	return requireRow(res, ledger.ErrVoucherNotFound)
}

func scanVoucher(row scanner) (rewards.Voucher, error) {
	var (
		v                            rewards.Voucher
		status, expiresAt, createdAt string
		usedAt                       sql.NullString
	)
	err := row.Scan(&v.ID, &v.Code, &v.RedemptionID, &v.RewardID, &v.CustomerID,
		&v.TenantID, &status, &expiresAt, &usedAt, &createdAt)
	if err != nil {
		return v, err
	}
	v.Status = rewards.VoucherStatus(status)
	v.ExpiresAt = parseTime(expiresAt)
	v.UsedAt = parseNullTime(usedAt)
	v.CreatedAt = parseTime(createdAt)
	return v, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"vouchers", "redemptions", "transactions", "rewards", "customers", "tenants"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func (s queries) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// requireRow turns an UPDATE or DELETE that touched nothing into notFound.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
