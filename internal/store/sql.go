package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"gitlab.com/dirk.krummacker/phonebook-service/internal/directory"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/model"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/sentinel"
)

// Error numbers of unique constraint violations.
const (
	mysqlDuplicateEntry     = 1062
	postgresUniqueViolation = "23505"
)

// Error numbers of transactions the database rolled back to resolve lock conflicts. FOR UPDATE on
// a missing phone number takes a gap lock in MySQL, so concurrent creates can deadlock.
const (
	mysqlDeadlock                = 1213
	postgresSerializationFailure = "40001"
	postgresDeadlockDetected     = "40P01"
)

// maxAttempts bounds the runs of a transaction that keeps failing with a lock conflict.
const maxAttempts = 3

const selectContacts = `SELECT id, first_name, last_name, phone_number, address FROM contacts`

const insertContact = `
	INSERT INTO contacts (first_name, last_name, phone_number, address)
	VALUES (:first_name, :last_name, :phone_number, :address)`

const updateContact = `
	UPDATE contacts
	SET first_name = ?, last_name = ?, phone_number = ?, address = ?
	WHERE id = ?`

const deleteContact = `DELETE FROM contacts WHERE id = ?`

// filterColumns are the columns a search may constrain.
var filterColumns = map[string]bool{
	"phone_number": true,
	"first_name":   true,
	"last_name":    true,
	"address":      true,
}

// SQLStore keeps the contacts in the contacts table of a MySQL or PostgreSQL database. Each call
// of RunInTx uses its own database transaction.
type SQLStore struct {
	db *sqlx.DB
	// returning is set for drivers without LastInsertId support.
	returning bool
}

// NewSQLStore wraps the database. The driver name of db decides about the SQL dialect.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db:        db,
		returning: sqlx.BindType(db.DriverName()) == sqlx.DOLLAR,
	}
}

// RunInTx implements directory.Store. A transaction the database aborted as deadlock victim or
// for a serialization failure is run again, up to maxAttempts times in total.
func (s *SQLStore) RunInTx(ctx context.Context, readOnly bool, fn func(tx directory.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.runOnce(ctx, readOnly, fn)
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *SQLStore) runOnce(ctx context.Context, readOnly bool, fn func(tx directory.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err == nil {
				err = fmt.Errorf("rollback transaction: %w", rbErr)
			}
		}
	}()

	if err := fn(&sqlTx{tx: tx, returning: s.returning, locking: !readOnly}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return translate(fmt.Errorf("commit transaction: %w", err))
	}
	committed = true
	return nil
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqlTx struct {
	tx        *sqlx.Tx
	returning bool
	// locking adds FOR UPDATE to single row lookups of writing transactions.
	locking bool
}

func (t *sqlTx) Insert(ctx context.Context, candidate model.ContactCandidate) (int64, error) {
	if t.returning {
		rows, err := sqlx.NamedQueryContext(ctx, t.tx, insertContact+" RETURNING id", candidate)
		if err != nil {
			return 0, translate(err)
		}
		defer rows.Close()
		var id int64
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return 0, translate(err)
			}
			return 0, errors.New("insert returned no id")
		}
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		return id, rows.Err()
	}
	result, err := t.tx.NamedExecContext(ctx, insertContact, candidate)
	if err != nil {
		return 0, translate(err)
	}
	return result.LastInsertId()
}

func (t *sqlTx) Get(ctx context.Context, id int64) (model.Contact, error) {
	return t.getOne(ctx, selectContacts+" WHERE id = ?", id)
}

func (t *sqlTx) FindByPhone(ctx context.Context, phone string) (model.Contact, error) {
	query := selectContacts + " WHERE phone_number = ?"
	if t.locking {
		query += " FOR UPDATE"
	}
	return t.getOne(ctx, query, phone)
}

func (t *sqlTx) getOne(ctx context.Context, query string, arg any) (model.Contact, error) {
	var contact model.Contact
	err := t.tx.GetContext(ctx, &contact, t.tx.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Contact{}, sentinel.ErrNotFound
	}
	if err != nil {
		return model.Contact{}, err
	}
	return contact, nil
}

func (t *sqlTx) Select(ctx context.Context, predicates []model.Predicate) ([]model.Contact, error) {
	conditions := make([]string, 0, len(predicates))
	args := make([]any, 0, len(predicates))
	for _, p := range predicates {
		if !filterColumns[p.Column] {
			return nil, fmt.Errorf("column %q cannot be filtered", p.Column)
		}
		conditions = append(conditions, p.Column+" = ?")
		args = append(args, p.Value)
	}
	query := selectContacts
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id"

	contacts := []model.Contact{}
	if err := t.tx.SelectContext(ctx, &contacts, t.tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	return contacts, nil
}

func (t *sqlTx) Page(ctx context.Context, offset int, limit int) ([]model.Contact, error) {
	contacts := []model.Contact{}
	query := t.tx.Rebind(selectContacts + " ORDER BY id LIMIT ? OFFSET ?")
	if err := t.tx.SelectContext(ctx, &contacts, query, limit, offset); err != nil {
		return nil, err
	}
	return contacts, nil
}

// Update writes all fields of the contact in one statement, so a contact is either changed
// completely or not at all.
func (t *sqlTx) Update(ctx context.Context, contact model.Contact) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(updateContact),
		contact.FirstName, contact.LastName, contact.PhoneNumber, contact.Address, contact.Id)
	return translate(err)
}

func (t *sqlTx) Delete(ctx context.Context, id int64) error {
	result, err := t.tx.ExecContext(ctx, t.tx.Rebind(deleteContact), id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// translate marks unique constraint violations of both supported databases as conflicts.
// retryable reports whether the database rolled back the transaction to resolve a lock conflict.
func retryable(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDeadlock
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresSerializationFailure || pgErr.Code == postgresDeadlockDetected
	}
	return false
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("%w: %w", sentinel.ErrConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == postgresUniqueViolation {
		return fmt.Errorf("%w: %w", sentinel.ErrConflict, err)
	}
	return err
}
