package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

const (
	cardColumns     = "id, number, number_hmac, owner_id, expiry_date, balance, status, created_at, updated_at"
	userColumns     = "id, username, password_hash, role, created_at, updated_at"
	transferColumns = "id, from_card_id, to_card_id, owner_id, amount, status, created_at"

	// lockTimeout bounds how long a transaction waits for a card row lock
	lockTimeout = "5s"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

var _ Store = (*PostgresStore)(nil)

// PostgresStore provides database operations on the bank schema
type PostgresStore struct {
	db *sql.DB // nil when bound to a transaction
	q  querier
}

// NewPostgresStore initializes a new store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// Migrate creates the schema objects that do not exist yet
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping reports database readiness
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Cards() CardStore         { return &pgCardStore{q: s.q} }
func (s *PostgresStore) Users() UserStore         { return &pgUserStore{q: s.q} }
func (s *PostgresStore) Transfers() TransferStore { return &pgTransferStore{q: s.q} }

// WithinTx runs fn in a read-committed transaction. Row locks taken through
// CardStore.LockByIDs provide the isolation a transfer needs.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%s'", lockTimeout)); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", mapError(err))
	}
	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

type pgCardStore struct {
	q querier
}

func scanCard(row rowScanner) (*models.Card, error) {
	card := &models.Card{}
	var status string
	err := row.Scan(&card.ID, &card.Number, &card.NumberHMAC, &card.OwnerID, &card.ExpiryDate,
		&card.Balance, &status, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, err
	}
	card.Status = models.CardStatus(status)
	return card, nil
}

// FindByID retrieves a card by id
func (r *pgCardStore) FindByID(ctx context.Context, id int64) (*models.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM bank.cards WHERE id = $1`
	card, err := scanCard(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", mapError(err))
	}
	return card, nil
}

func (r *pgCardStore) FindByOwnerAndStatus(ctx context.Context, ownerID int64, status models.CardStatus, page models.PageRequest) (models.Page[*models.Card], error) {
	return r.list(ctx, " WHERE owner_id = $1 AND status = $2", []any{ownerID, string(status)}, page)
}

func (r *pgCardStore) FindByOwner(ctx context.Context, ownerID int64, page models.PageRequest) (models.Page[*models.Card], error) {
	return r.list(ctx, " WHERE owner_id = $1", []any{ownerID}, page)
}

func (r *pgCardStore) FindByStatus(ctx context.Context, status models.CardStatus, page models.PageRequest) (models.Page[*models.Card], error) {
	return r.list(ctx, " WHERE status = $1", []any{string(status)}, page)
}

func (r *pgCardStore) FindAll(ctx context.Context, page models.PageRequest) (models.Page[*models.Card], error) {
	return r.list(ctx, "", nil, page)
}

func (r *pgCardStore) list(ctx context.Context, where string, args []any, page models.PageRequest) (models.Page[*models.Card], error) {
	page = page.Normalize()
	out := models.Page[*models.Card]{Items: []*models.Card{}, Number: page.Number, Size: page.Size}

	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank.cards`+where, args...).Scan(&out.Total); err != nil {
		return out, fmt.Errorf("failed to count cards: %w", mapError(err))
	}
	query := fmt.Sprintf(`SELECT %s FROM bank.cards%s ORDER BY id LIMIT $%d OFFSET $%d`,
		cardColumns, where, len(args)+1, len(args)+2)
	rows, err := r.q.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return out, fmt.Errorf("failed to list cards: %w", mapError(err))
	}
	defer rows.Close()
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return out, fmt.Errorf("failed to scan card: %w", err)
		}
		out.Items = append(out.Items, card)
	}
	return out, rows.Err()
}

// LockByIDs selects the cards FOR UPDATE. ORDER BY id makes every transaction
// acquire card locks in the same order.
func (r *pgCardStore) LockByIDs(ctx context.Context, ids ...int64) (map[int64]*models.Card, error) {
	ids = uniqueSorted(ids)
	query := `SELECT ` + cardColumns + ` FROM bank.cards WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock cards: %w", mapError(err))
	}
	defer rows.Close()

	out := make(map[int64]*models.Card, len(ids))
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		out[card.ID] = card
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to lock cards: %w", mapError(err))
	}
	return out, nil
}

// Save creates or updates a card
func (r *pgCardStore) Save(ctx context.Context, card *models.Card) error {
	if card.ID == 0 {
		query := `
			INSERT INTO bank.cards (number, number_hmac, owner_id, expiry_date, balance, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			RETURNING id, created_at, updated_at`
		err := r.q.QueryRowContext(ctx, query, card.Number, card.NumberHMAC, card.OwnerID, card.ExpiryDate,
			card.Balance, string(card.Status)).Scan(&card.ID, &card.CreatedAt, &card.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create card: %w", mapError(err))
		}
		return nil
	}

	query := `
		UPDATE bank.cards
		SET number = $2, number_hmac = $3, owner_id = $4, expiry_date = $5, balance = $6, status = $7,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := r.q.QueryRowContext(ctx, query, card.ID, card.Number, card.NumberHMAC, card.OwnerID, card.ExpiryDate,
		card.Balance, string(card.Status)).Scan(&card.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update card: %w", mapError(err))
	}
	return nil
}

// Delete removes a card permanently
func (r *pgCardStore) Delete(ctx context.Context, card *models.Card) error {
	return deleteByID(ctx, r.q, "bank.cards", card.ID)
}

type pgUserStore struct {
	q querier
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var role string
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &role, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.Role = models.Role(role)
	return user, nil
}

// FindByID retrieves a user by id
func (r *pgUserStore) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM bank.users WHERE id = $1`, id)
}

// FindByUsername retrieves a user by username
func (r *pgUserStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM bank.users WHERE username = $1`, username)
}

func (r *pgUserStore) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user, err := scanUser(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", mapError(err))
	}
	return user, nil
}

func (r *pgUserStore) FindAll(ctx context.Context, page models.PageRequest) (models.Page[*models.User], error) {
	page = page.Normalize()
	out := models.Page[*models.User]{Items: []*models.User{}, Number: page.Number, Size: page.Size}

	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank.users`).Scan(&out.Total); err != nil {
		return out, fmt.Errorf("failed to count users: %w", mapError(err))
	}
	rows, err := r.q.QueryContext(ctx, `SELECT `+userColumns+` FROM bank.users ORDER BY id LIMIT $1 OFFSET $2`,
		page.Size, page.Offset())
	if err != nil {
		return out, fmt.Errorf("failed to list users: %w", mapError(err))
	}
	defer rows.Close()
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return out, fmt.Errorf("failed to scan user: %w", err)
		}
		out.Items = append(out.Items, user)
	}
	return out, rows.Err()
}

func (r *pgUserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bank.users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", mapError(err))
	}
	return exists, nil
}

// Save creates or updates a user
func (r *pgUserStore) Save(ctx context.Context, user *models.User) error {
	if user.ID == 0 {
		query := `
			INSERT INTO bank.users (username, password_hash, role, created_at, updated_at)
			VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			RETURNING id, created_at, updated_at`
		err := r.q.QueryRowContext(ctx, query, user.Username, user.PasswordHash, string(user.Role)).
			Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", mapError(err))
		}
		return nil
	}

	query := `
		UPDATE bank.users
		SET username = $2, password_hash = $3, role = $4, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := r.q.QueryRowContext(ctx, query, user.ID, user.Username, user.PasswordHash, string(user.Role)).
		Scan(&user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", mapError(err))
	}
	return nil
}

// Delete removes a user permanently
func (r *pgUserStore) Delete(ctx context.Context, user *models.User) error {
	return deleteByID(ctx, r.q, "bank.users", user.ID)
}

type pgTransferStore struct {
	q querier
}

func scanTransfer(row rowScanner) (*models.Transfer, error) {
	t := &models.Transfer{}
	var status string
	if err := row.Scan(&t.ID, &t.FromCardID, &t.ToCardID, &t.OwnerID, &t.Amount, &status, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Status = models.TransferStatus(status)
	return t, nil
}

// Save appends a transfer. Stored transfers are never updated.
func (r *pgTransferStore) Save(ctx context.Context, t *models.Transfer) error {
	if t.ID != 0 {
		return fmt.Errorf("transfer %d is already stored", t.ID)
	}
	query := `
		INSERT INTO bank.transfers (from_card_id, to_card_id, owner_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := r.q.QueryRowContext(ctx, query, t.FromCardID, t.ToCardID, t.OwnerID, t.Amount, string(t.Status), t.CreatedAt).
		Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("failed to create transfer: %w", mapError(err))
	}
	return nil
}

func (r *pgTransferStore) FindAll(ctx context.Context, page models.PageRequest) (models.Page[*models.Transfer], error) {
	return r.list(ctx, "", nil, page)
}

func (r *pgTransferStore) FindByOwner(ctx context.Context, ownerID int64, page models.PageRequest) (models.Page[*models.Transfer], error) {
	return r.list(ctx, " WHERE owner_id = $1", []any{ownerID}, page)
}

func (r *pgTransferStore) list(ctx context.Context, where string, args []any, page models.PageRequest) (models.Page[*models.Transfer], error) {
	page = page.Normalize()
	out := models.Page[*models.Transfer]{Items: []*models.Transfer{}, Number: page.Number, Size: page.Size}

	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bank.transfers`+where, args...).Scan(&out.Total); err != nil {
		return out, fmt.Errorf("failed to count transfers: %w", mapError(err))
	}
	query := fmt.Sprintf(`SELECT %s FROM bank.transfers%s ORDER BY id LIMIT $%d OFFSET $%d`,
		transferColumns, where, len(args)+1, len(args)+2)
	rows, err := r.q.QueryContext(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return out, fmt.Errorf("failed to list transfers: %w", mapError(err))
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return out, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out.Items = append(out.Items, t)
	}
	return out, rows.Err()
}

func deleteByID(ctx context.Context, q querier, table string, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, mapError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// mapError translates Postgres SQLSTATEs into the package sentinels
func mapError(err error) error {
	var pe *pq.Error
	if !errors.As(err, &pe) {
		return err
	}
	switch pe.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", ErrDuplicate, pe.Constraint)
	case "23503": // foreign_key_violation
		return fmt.Errorf("%w: %s", ErrReferenced, pe.Constraint)
	case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
		return fmt.Errorf("%w: %s", ErrLockConflict, pe.Message)
	}
	return err
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
