package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in process memory. It is used by tests and by
// the memory backend. Units of work run one at a time and are undone on error.
type MemoryStore struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	users     map[int64]*models.User
	cards     map[int64]*models.Card
	transfers map[int64]*models.Transfer

	nextUserID     int64
	nextCardID     int64
	nextTransferID int64
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[int64]*models.User),
		cards:     make(map[int64]*models.Card),
		transfers: make(map[int64]*models.Transfer),
	}
}

func (s *MemoryStore) Cards() CardStore         { return &memCardStore{s: s} }
func (s *MemoryStore) Users() UserStore         { return &memUserStore{s: s} }
func (s *MemoryStore) Transfers() TransferStore { return &memTransferStore{s: s} }

// WithinTx serializes units of work and restores touched rows when fn fails
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{s: s, undo: newUndoLog()}
	if err := fn(tx); err != nil {
		s.rollback(tx.undo)
		return err
	}
	return nil
}

// undoLog remembers the state of every row before a unit of work first wrote
// it. A nil entry means the row did not exist.
type undoLog struct {
	cards     map[int64]*models.Card
	users     map[int64]*models.User
	transfers []int64
}

func newUndoLog() *undoLog {
	return &undoLog{cards: map[int64]*models.Card{}, users: map[int64]*models.User{}}
}

func (u *undoLog) card(id int64, prev *models.Card) {
	if u == nil {
		return
	}
	if _, ok := u.cards[id]; !ok {
		if prev != nil {
			prev = prev.Clone()
		}
		u.cards[id] = prev
	}
}

func (u *undoLog) user(id int64, prev *models.User) {
	if u == nil {
		return
	}
	if _, ok := u.users[id]; !ok {
		if prev != nil {
			prev = prev.Clone()
		}
		u.users[id] = prev
	}
}

func (u *undoLog) transfer(id int64) {
	if u != nil {
		u.transfers = append(u.transfers, id)
	}
}

func (s *MemoryStore) rollback(u *undoLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, prev := range u.cards {
		if prev == nil {
			delete(s.cards, id)
		} else {
			s.cards[id] = prev
		}
	}
	for id, prev := range u.users {
		if prev == nil {
			delete(s.users, id)
		} else {
			s.users[id] = prev
		}
	}
	for _, id := range u.transfers {
		delete(s.transfers, id)
	}
}

// memTx is a Store bound to one unit of work
type memTx struct {
	s    *MemoryStore
	undo *undoLog
}

func (t *memTx) Cards() CardStore         { return &memCardStore{s: t.s, undo: t.undo} }
func (t *memTx) Users() UserStore         { return &memUserStore{s: t.s, undo: t.undo} }
func (t *memTx) Transfers() TransferStore { return &memTransferStore{s: t.s, undo: t.undo} }

func (t *memTx) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func paginate[T any](items []T, page models.PageRequest) models.Page[T] {
	page = page.Normalize()
	out := models.Page[T]{Items: []T{}, Number: page.Number, Size: page.Size, Total: int64(len(items))}
	start := page.Offset()
	if start < 0 || start >= len(items) {
		return out
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	out.Items = append(out.Items, items[start:end]...)
	return out
}

type memCardStore struct {
	s    *MemoryStore
	undo *undoLog
}

func (r *memCardStore) FindByID(ctx context.Context, id int64) (*models.Card, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	card, ok := r.s.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return card.Clone(), nil
}

func (r *memCardStore) filter(keep func(*models.Card) bool, page models.PageRequest) models.Page[*models.Card] {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var matched []*models.Card
	for _, card := range r.s.cards {
		if keep(card) {
			matched = append(matched, card.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginate(matched, page)
}

func (r *memCardStore) FindByOwnerAndStatus(ctx context.Context, ownerID int64, status models.CardStatus, page models.PageRequest) (models.Page[*models.Card], error) {
	return r.filter(func(c *models.Card) bool { return c.OwnerID == ownerID && c.Status == status }, page), nil
}

func (r *memCardStore) FindByOwner(ctx context.Context, ownerID int64, page models.PageRequest) (models.Page[*models.Card], error) {
	return r.filter(func(c *models.Card) bool { return c.OwnerID == ownerID }, page), nil
}

func (r *memCardStore) FindByStatus(ctx context.Context, status models.CardStatus, page models.PageRequest) (models.Page[*models.Card], error) {
	return r.filter(func(c *models.Card) bool { return c.Status == status }, page), nil
}

func (r *memCardStore) FindAll(ctx context.Context, page models.PageRequest) (models.Page[*models.Card], error) {
	return r.filter(func(*models.Card) bool { return true }, page), nil
}

// LockByIDs relies on WithinTx running one unit of work at a time
func (r *memCardStore) LockByIDs(ctx context.Context, ids ...int64) (map[int64]*models.Card, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[int64]*models.Card, len(ids))
	for _, id := range ids {
		if card, ok := r.s.cards[id]; ok {
			out[id] = card.Clone()
		}
	}
	return out, nil
}

func (r *memCardStore) Save(ctx context.Context, card *models.Card) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, other := range r.s.cards {
		if id != card.ID && (other.NumberHMAC == card.NumberHMAC || other.Number == card.Number) {
			return fmt.Errorf("card number exists: %w", ErrDuplicate)
		}
	}
	if _, ok := r.s.users[card.OwnerID]; !ok {
		return fmt.Errorf("card owner %d: %w", card.OwnerID, ErrReferenced)
	}

	now := time.Now()
	if card.ID == 0 {
		r.s.nextCardID++
		card.ID = r.s.nextCardID
		card.CreatedAt = now
		card.UpdatedAt = now
		r.undo.card(card.ID, nil)
		r.s.cards[card.ID] = card.Clone()
		return nil
	}

	prev, ok := r.s.cards[card.ID]
	if !ok {
		return ErrNotFound
	}
	r.undo.card(card.ID, prev)
	card.UpdatedAt = now
	r.s.cards[card.ID] = card.Clone()
	return nil
}

func (r *memCardStore) Delete(ctx context.Context, card *models.Card) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.cards[card.ID]
	if !ok {
		return ErrNotFound
	}
	for _, t := range r.s.transfers {
		if t.FromCardID == card.ID || t.ToCardID == card.ID {
			return fmt.Errorf("card %d has transfers: %w", card.ID, ErrReferenced)
		}
	}
	r.undo.card(card.ID, prev)
	delete(r.s.cards, card.ID)
	return nil
}

type memUserStore struct {
	s    *MemoryStore
	undo *undoLog
}

func (r *memUserStore) FindByID(ctx context.Context, id int64) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return user.Clone(), nil
}

func (r *memUserStore) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, user := range r.s.users {
		if user.Username == username {
			return user.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (r *memUserStore) FindAll(ctx context.Context, page models.PageRequest) (models.Page[*models.User], error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	users := make([]*models.User, 0, len(r.s.users))
	for _, user := range r.s.users {
		users = append(users, user.Clone())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return paginate(users, page), nil
}

func (r *memUserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := r.FindByUsername(ctx, username)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (r *memUserStore) Save(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, other := range r.s.users {
		if id != user.ID && other.Username == user.Username {
			return fmt.Errorf("username exists: %w", ErrDuplicate)
		}
	}

	now := time.Now()
	if user.ID == 0 {
		r.s.nextUserID++
		user.ID = r.s.nextUserID
		user.CreatedAt = now
		user.UpdatedAt = now
		r.undo.user(user.ID, nil)
		r.s.users[user.ID] = user.Clone()
		return nil
	}

	prev, ok := r.s.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	r.undo.user(user.ID, prev)
	user.UpdatedAt = now
	r.s.users[user.ID] = user.Clone()
	return nil
}

func (r *memUserStore) Delete(ctx context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	for _, card := range r.s.cards {
		if card.OwnerID == user.ID {
			return fmt.Errorf("user %d owns cards: %w", user.ID, ErrReferenced)
		}
	}
	for _, t := range r.s.transfers {
		if t.OwnerID == user.ID {
			return fmt.Errorf("user %d has transfers: %w", user.ID, ErrReferenced)
		}
	}
	r.undo.user(user.ID, prev)
	delete(r.s.users, user.ID)
	return nil
}

type memTransferStore struct {
	s    *MemoryStore
	undo *undoLog
}

func (r *memTransferStore) Save(ctx context.Context, t *models.Transfer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if t.ID != 0 {
		return fmt.Errorf("transfer %d is already stored", t.ID)
	}
	r.s.nextTransferID++
	t.ID = r.s.nextTransferID
	cp := *t
	r.s.transfers[t.ID] = &cp
	r.undo.transfer(t.ID)
	return nil
}

func (r *memTransferStore) list(keep func(*models.Transfer) bool, page models.PageRequest) models.Page[*models.Transfer] {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var matched []*models.Transfer
	for _, t := range r.s.transfers {
		if keep(t) {
			cp := *t
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginate(matched, page)
}

func (r *memTransferStore) FindAll(ctx context.Context, page models.PageRequest) (models.Page[*models.Transfer], error) {
	return r.list(func(*models.Transfer) bool { return true }, page), nil
}

func (r *memTransferStore) FindByOwner(ctx context.Context, ownerID int64, page models.PageRequest) (models.Page[*models.Transfer], error) {
	return r.list(func(t *models.Transfer) bool { return t.OwnerID == ownerID }, page), nil
}
