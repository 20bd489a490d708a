package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pmehta/loanbook/pkg/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// SQLite allows a single writer; one pooled connection serializes
	// transactions, which the guarded check-then-insert in CreateLoan
	// relies on.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	log.Println("Database connection established and schema initialized.")
	return s, nil
}

// initSchema creates the tables if they don't already exist. Decimal
// fields use TEXT so no precision is lost; the amortization schedule is
// stored as a JSON document alongside the loan so a loan and its
// schedule are written in one insert.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		loan_type TEXT NOT NULL,
		credit_score INTEGER NOT NULL,
		principal TEXT NOT NULL,
		annual_rate REAL NOT NULL,
		tenure_months INTEGER NOT NULL,
		emi_amount TEXT NOT NULL,
		total_interest TEXT NOT NULL,
		total_payable TEXT NOT NULL,
		remaining_balance TEXT NOT NULL,
		emi_schedule TEXT NOT NULL,
		status TEXT NOT NULL,
		applied_at DATETIME NOT NULL,
		approved_at DATETIME,
		approved_by TEXT,
		disbursed_at DATETIME,
		disbursed_by TEXT,
		rejected_at DATETIME,
		rejected_by TEXT,
		rejection_reason TEXT,
		closed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(customer_id);
	CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
	CREATE TABLE IF NOT EXISTS repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_on DATETIME NOT NULL,
		remaining_balance TEXT NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_repayments_loan ON repayments(loan_id);
	CREATE TABLE IF NOT EXISTS admins (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

const loanColumns = `id, customer_id, loan_type, credit_score, principal, annual_rate, tenure_months, emi_amount, total_interest, total_payable, remaining_balance, emi_schedule, status, applied_at, approved_at, approved_by, disbursed_at, disbursed_by, rejected_at, rejected_by, rejection_reason, closed_at`

// CreateLoan evaluates guard against the borrower's active loans and
// inserts the new loan in the same transaction, so two concurrent
// applications cannot both pass the eligibility scan.
func (s *SQLiteStore) CreateLoan(loan *models.Loan, guard func(active []*models.Loan) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if guard != nil {
		rows, err := tx.Query(
			`SELECT `+loanColumns+` FROM loans WHERE customer_id = ? AND status IN (?, ?, ?)`,
			loan.CustomerID, string(models.StatusApplied), string(models.StatusApproved), string(models.StatusDisbursed),
		)
		if err != nil {
			return fmt.Errorf("failed to scan active loans: %w", err)
		}
		active, err := scanLoans(rows)
		if err != nil {
			return err
		}
		if err := guard(active); err != nil {
			return err
		}
	}

	scheduleJSON, err := json.Marshal(loan.Schedule)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerID, string(loan.LoanType), loan.CreditScore,
		loan.Principal, loan.AnnualRate, loan.TenureMonths, loan.EMIAmount,
		loan.TotalInterest, loan.TotalPayable, loan.RemainingBalance, string(scheduleJSON),
		string(loan.Status), loan.AppliedAt,
		loan.ApprovedAt, loan.ApprovedBy, loan.DisbursedAt, loan.DisbursedBy,
		loan.RejectedAt, loan.RejectedBy, loan.RejectionReason, loan.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return tx.Commit()
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return loan, err
}

// GetLoanForCustomer retrieves a loan only when owned by customerID.
func (s *SQLiteStore) GetLoanForCustomer(id uuid.UUID, customerID string) (*models.Loan, error) {
	row := s.db.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ? AND customer_id = ?`, id.String(), customerID)
	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return loan, err
}

// ListLoansByStatus retrieves all loans in the given status.
func (s *SQLiteStore) ListLoansByStatus(status models.LoanStatus) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY applied_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list loans by status: %w", err)
	}
	return scanLoans(rows)
}

// ListLoansForCustomer retrieves all loans owned by customerID.
func (s *SQLiteStore) ListLoansForCustomer(customerID string) ([]*models.Loan, error) {
	rows, err := s.db.Query(`SELECT `+loanColumns+` FROM loans WHERE customer_id = ? ORDER BY applied_at ASC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans for customer: %w", err)
	}
	return scanLoans(rows)
}

// Transition performs the guarded status update. The WHERE clause pins
// the source status, so a loan that has moved on is left untouched and
// the caller learns its current status instead.
func (s *SQLiteStore) Transition(id uuid.UUID, from, to models.LoanStatus, change StatusChange) (*models.Loan, error) {
	var set string
	args := []interface{}{string(to)}
	switch to {
	case models.StatusApproved:
		set = `status = ?, approved_at = ?, approved_by = ?`
		args = append(args, change.At, change.Actor)
	case models.StatusDisbursed:
		set = `status = ?, disbursed_at = ?, disbursed_by = ?`
		args = append(args, change.At, change.Actor)
	case models.StatusRejected:
		set = `status = ?, rejected_at = ?, rejected_by = ?, rejection_reason = ?`
		args = append(args, change.At, change.Actor, change.Reason)
	default:
		return nil, fmt.Errorf("unsupported transition target %s", to)
	}
	args = append(args, id.String(), string(from))

	result, err := s.db.Exec(`UPDATE loans SET `+set+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to transition loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		current, err := s.GetLoan(id)
		if err != nil {
			return nil, err
		}
		return nil, &StatusConflictError{Current: current.Status}
	}
	return s.GetLoan(id)
}

// SettleRepayment applies one repayment: a compare-and-swap on the
// balance plus the repayment-record insert, in one transaction. The CAS
// also pins status = DISBURSED so a concurrently closed loan cannot
// accept further payments.
func (s *SQLiteStore) SettleRepayment(id uuid.UUID, oldBalance, newBalance decimal.Decimal, closeLoan bool, closedAt time.Time, rec *models.RepaymentRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	set := `remaining_balance = ?`
	args := []interface{}{newBalance}
	if closeLoan {
		set += `, status = ?, closed_at = ?`
		args = append(args, string(models.StatusClosed), closedAt)
	}
	args = append(args, id.String(), string(models.StatusDisbursed), oldBalance)

	result, err := tx.Exec(`UPDATE loans SET `+set+` WHERE id = ? AND status = ? AND remaining_balance = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update loan balance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConflict
	}

	_, err = tx.Exec(
		`INSERT INTO repayments (id, loan_id, customer_id, amount, paid_on, remaining_balance)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.LoanID.String(), rec.CustomerID, rec.Amount, rec.PaidOn, rec.RemainingBalance,
	)
	if err != nil {
		return fmt.Errorf("failed to record repayment: %w", err)
	}
	return tx.Commit()
}

// RepaymentsForLoan retrieves all repayments for a loan, oldest first.
func (s *SQLiteStore) RepaymentsForLoan(loanID uuid.UUID) ([]*models.RepaymentRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, loan_id, customer_id, amount, paid_on, remaining_balance FROM repayments WHERE loan_id = ? ORDER BY paid_on ASC`,
		loanID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get repayments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	var records []*models.RepaymentRecord
	for rows.Next() {
		var rec models.RepaymentRecord
		var recIDStr, loanIDStr string
		if err := rows.Scan(&recIDStr, &loanIDStr, &rec.CustomerID, &rec.Amount, &rec.PaidOn, &rec.RemainingBalance); err != nil {
			return nil, fmt.Errorf("failed to scan repayment row: %w", err)
		}
		rec.ID = uuid.MustParse(recIDStr)
		rec.LoanID = uuid.MustParse(loanIDStr)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return records, nil
}

// CreateAdmin inserts a new admin account.
func (s *SQLiteStore) CreateAdmin(admin *models.Admin) error {
	_, err := s.db.Exec(
		`INSERT INTO admins (id, first_name, last_name) VALUES (?, ?, ?)`,
		admin.ID.String(), admin.FirstName, admin.LastName,
	)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}
	return nil
}

// GetAdmin retrieves an admin by ID.
func (s *SQLiteStore) GetAdmin(id uuid.UUID) (*models.Admin, error) {
	var admin models.Admin
	var idStr string
	row := s.db.QueryRow(`SELECT id, first_name, last_name FROM admins WHERE id = ?`, id.String())
	if err := row.Scan(&idStr, &admin.FirstName, &admin.LastName); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAdminNotFound
		}
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	admin.ID = uuid.MustParse(idStr)
	return &admin, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var loanIDStr, loanType, status, scheduleJSON string
	var approvedAt, disbursedAt, rejectedAt, closedAt sql.NullTime
	var approvedBy, disbursedBy, rejectedBy, rejectionReason sql.NullString

	err := row.Scan(
		&loanIDStr, &loan.CustomerID, &loanType, &loan.CreditScore,
		&loan.Principal, &loan.AnnualRate, &loan.TenureMonths, &loan.EMIAmount,
		&loan.TotalInterest, &loan.TotalPayable, &loan.RemainingBalance, &scheduleJSON,
		&status, &loan.AppliedAt,
		&approvedAt, &approvedBy, &disbursedAt, &disbursedBy,
		&rejectedAt, &rejectedBy, &rejectionReason, &closedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan loan row: %w", err)
	}

	loan.ID = uuid.MustParse(loanIDStr)
	loan.LoanType = models.LoanType(loanType)
	loan.Status = models.LoanStatus(status)
	if err := json.Unmarshal([]byte(scheduleJSON), &loan.Schedule); err != nil {
		return nil, fmt.Errorf("failed to decode schedule: %w", err)
	}
	if approvedAt.Valid {
		loan.ApprovedAt = &approvedAt.Time
	}
	if disbursedAt.Valid {
		loan.DisbursedAt = &disbursedAt.Time
	}
	if rejectedAt.Valid {
		loan.RejectedAt = &rejectedAt.Time
	}
	if closedAt.Valid {
		loan.ClosedAt = &closedAt.Time
	}
	loan.ApprovedBy = approvedBy.String
	loan.DisbursedBy = disbursedBy.String
	loan.RejectedBy = rejectedBy.String
	loan.RejectionReason = rejectionReason.String
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	defer rows.Close()
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}
