package store

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"gitlab.com/dirk.krummacker/phonebook-service/internal/directory"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/model"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/sentinel"
)

var errReadOnly = errors.New("write in read-only transaction")

// MemoryStore keeps the contacts in process memory. Writing transactions work on a copy of the
// collection that replaces the original on commit; reading transactions share a read lock.
type MemoryStore struct {
	mu       sync.RWMutex
	contacts map[int64]model.Contact
	lastID   int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contacts: map[int64]model.Contact{}}
}

// RunInTx implements directory.Store.
func (s *MemoryStore) RunInTx(ctx context.Context, readOnly bool, fn func(tx directory.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if readOnly {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return fn(&memoryTx{contacts: s.contacts, lastID: s.lastID, readOnly: true})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{contacts: maps.Clone(s.contacts), lastID: s.lastID}
	if err := fn(tx); err != nil {
		return err
	}
	s.contacts = tx.contacts
	s.lastID = tx.lastID
	return nil
}

// Ping implements the health check; memory is always available.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

type memoryTx struct {
	contacts map[int64]model.Contact
	lastID   int64
	readOnly bool
}

func (t *memoryTx) Insert(_ context.Context, candidate model.ContactCandidate) (int64, error) {
	if t.readOnly {
		return 0, errReadOnly
	}
	if t.phoneTaken(candidate.PhoneNumber, 0) {
		return 0, sentinel.ErrConflict
	}
	t.lastID++
	t.contacts[t.lastID] = model.Contact{
		Id:          t.lastID,
		FirstName:   candidate.FirstName,
		LastName:    candidate.LastName,
		PhoneNumber: candidate.PhoneNumber,
		Address:     candidate.Address,
	}
	return t.lastID, nil
}

func (t *memoryTx) Get(_ context.Context, id int64) (model.Contact, error) {
	contact, ok := t.contacts[id]
	if !ok {
		return model.Contact{}, sentinel.ErrNotFound
	}
	return contact, nil
}

func (t *memoryTx) FindByPhone(_ context.Context, phone string) (model.Contact, error) {
	for _, contact := range t.contacts {
		if contact.PhoneNumber == phone {
			return contact, nil
		}
	}
	return model.Contact{}, sentinel.ErrNotFound
}

func (t *memoryTx) Select(_ context.Context, predicates []model.Predicate) ([]model.Contact, error) {
	contacts := []model.Contact{}
	for _, contact := range t.sorted() {
		if matches(contact, predicates) {
			contacts = append(contacts, contact)
		}
	}
	return contacts, nil
}

func (t *memoryTx) Page(_ context.Context, offset int, limit int) ([]model.Contact, error) {
	sorted := t.sorted()
	if offset >= len(sorted) {
		return []model.Contact{}, nil
	}
	// offset+limit may overflow for huge limits.
	end := offset + min(limit, len(sorted)-offset)
	return slices.Clone(sorted[offset:end]), nil
}

func (t *memoryTx) Update(_ context.Context, contact model.Contact) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, ok := t.contacts[contact.Id]; !ok {
		return sentinel.ErrNotFound
	}
	if t.phoneTaken(contact.PhoneNumber, contact.Id) {
		return sentinel.ErrConflict
	}
	t.contacts[contact.Id] = contact
	return nil
}

func (t *memoryTx) Delete(_ context.Context, id int64) error {
	if t.readOnly {
		return errReadOnly
	}
	if _, ok := t.contacts[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(t.contacts, id)
	return nil
}

// phoneTaken plays the role of the unique index on phone_number.
func (t *memoryTx) phoneTaken(phone string, self int64) bool {
	for id, contact := range t.contacts {
		if id != self && contact.PhoneNumber == phone {
			return true
		}
	}
	return false
}

func (t *memoryTx) sorted() []model.Contact {
	ids := slices.Sorted(maps.Keys(t.contacts))
	contacts := make([]model.Contact, 0, len(ids))
	for _, id := range ids {
		contacts = append(contacts, t.contacts[id])
	}
	return contacts
}

func matches(contact model.Contact, predicates []model.Predicate) bool {
	for _, p := range predicates {
		if contact.Column(p.Column) != p.Value {
			return false
		}
	}
	return true
}
