// Package directory manages the collection of contact records. It owns the rules of the
// phonebook: phone numbers are unique, updates are partial, searches combine the given criteria
// and lists are paged in a stable order.
package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gitlab.com/dirk.krummacker/phonebook-service/internal/model"
	"gitlab.com/dirk.krummacker/phonebook-service/internal/sentinel"
)

// Store hands out transactions on the contact collection. The transaction is released when fn
// returns; it is committed if fn returns nil and rolled back otherwise.
type Store interface {
	RunInTx(ctx context.Context, readOnly bool, fn func(tx Tx) error) error
}

// Tx is the contact collection as seen from within one transaction. Methods that look up a
// single contact return sentinel.ErrNotFound if there is none. Writes that would violate the
// uniqueness of the phone number return sentinel.ErrConflict. Lists are ordered by id.
type Tx interface {
	Insert(ctx context.Context, candidate model.ContactCandidate) (int64, error)
	Get(ctx context.Context, id int64) (model.Contact, error)
	FindByPhone(ctx context.Context, phone string) (model.Contact, error)
	Select(ctx context.Context, predicates []model.Predicate) ([]model.Contact, error)
	Page(ctx context.Context, offset int, limit int) ([]model.Contact, error)
	Update(ctx context.Context, contact model.Contact) error
	Delete(ctx context.Context, id int64) error
}

// Recorder receives the outcome and duration of every directory operation.
type Recorder interface {
	ObserveOperation(operation string, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}

// Option configures a Directory.
type Option func(*Directory)

// WithRecorder reports operation outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(d *Directory) {
		d.recorder = r
	}
}

// WithTracer creates the operation spans with t instead of the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Directory) {
		d.tracer = t
	}
}

// Directory is the contact record manager. It is safe for concurrent use.
type Directory struct {
	store    Store
	locks    keyLocks
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
}

// New creates a directory on top of the given store.
func New(store Store, logger *slog.Logger, opts ...Option) *Directory {
	d := &Directory{
		store:    store,
		logger:   logger,
		recorder: nopRecorder{},
		tracer:   otel.Tracer("gitlab.com/dirk.krummacker/phonebook-service/internal/directory"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Create stores a new contact and returns it as persisted, including its new id. It fails with
// ErrDuplicateKey if the phone number is already in use.
func (d *Directory) Create(ctx context.Context, candidate model.ContactCandidate) (contact model.Contact, err error) {
	ctx, done := d.observe(ctx, "create")
	defer func() { done(err) }()

	if err = validateCandidate(candidate); err != nil {
		return model.Contact{}, err
	}

	unlock := d.locks.lock(candidate.PhoneNumber)
	defer unlock()

	err = d.store.RunInTx(ctx, false, func(tx Tx) error {
		if err := ensureUnused(ctx, tx, candidate.PhoneNumber, 0); err != nil {
			return err
		}
		id, err := tx.Insert(ctx, candidate)
		if err != nil {
			return err
		}
		contact, err = tx.Get(ctx, id)
		return err
	})
	if err != nil {
		return model.Contact{}, d.translate(ctx, "create", err, candidate.PhoneNumber)
	}
	d.logger.InfoContext(ctx, "contact created", "contact_id", contact.Id)
	return contact, nil
}

// Search returns all contacts that match every criterion of the filter, ordered by id. A search
// without criteria is rejected; a search without matches returns an empty slice.
func (d *Directory) Search(ctx context.Context, filter model.ContactFilter) (contacts []model.Contact, err error) {
	ctx, done := d.observe(ctx, "search")
	defer func() { done(err) }()

	predicates := filter.Predicates()
	if len(predicates) == 0 {
		return nil, invalid("at least one search criterion is required")
	}
	err = d.store.RunInTx(ctx, true, func(tx Tx) error {
		contacts, err = tx.Select(ctx, predicates)
		return err
	})
	if err != nil {
		return nil, d.translate(ctx, "search", err, "")
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	return contacts, nil
}

// List returns up to limit contacts ordered by id, skipping the first offset ones.
func (d *Directory) List(ctx context.Context, offset int, limit int) (contacts []model.Contact, err error) {
	ctx, done := d.observe(ctx, "list")
	defer func() { done(err) }()

	if offset < 0 {
		return nil, invalid("offset must not be negative")
	}
	if limit < 1 {
		return nil, invalid("limit must be positive")
	}
	err = d.store.RunInTx(ctx, true, func(tx Tx) error {
		contacts, err = tx.Page(ctx, offset, limit)
		return err
	})
	if err != nil {
		return nil, d.translate(ctx, "list", err, "")
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	return contacts, nil
}

// Update applies the patch to the contact with the phone number key and returns the complete
// contact afterwards. Only the fields present in the patch are changed. A new phone number must
// not be used by any other contact.
func (d *Directory) Update(ctx context.Context, key string, patch model.ContactPatch) (contact model.Contact, err error) {
	ctx, done := d.observe(ctx, "update")
	defer func() { done(err) }()

	if patch.IsEmpty() {
		return model.Contact{}, invalid("no values to be updated")
	}
	if err = validatePatch(patch); err != nil {
		return model.Contact{}, err
	}
	if !model.ValidPhoneNumber(key) {
		return model.Contact{}, notFound(key)
	}

	keys := []string{key}
	target := key
	if patch.PhoneNumber != nil {
		target = *patch.PhoneNumber
		keys = append(keys, target)
	}
	unlock := d.locks.lock(keys...)
	defer unlock()

	err = d.store.RunInTx(ctx, false, func(tx Tx) error {
		current, err := tx.FindByPhone(ctx, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			return notFound(key)
		}
		if err != nil {
			return err
		}
		updated := patch.Apply(current)
		if updated.PhoneNumber != current.PhoneNumber {
			if err := ensureUnused(ctx, tx, updated.PhoneNumber, current.Id); err != nil {
				return err
			}
		}
		if err := tx.Update(ctx, updated); err != nil {
			return err
		}
		contact, err = tx.Get(ctx, current.Id)
		return err
	})
	if err != nil {
		return model.Contact{}, d.translate(ctx, "update", err, target)
	}
	d.logger.InfoContext(ctx, "contact updated", "contact_id", contact.Id)
	return contact, nil
}

// Delete removes the contact with the phone number key and returns it.
func (d *Directory) Delete(ctx context.Context, key string) (contact model.Contact, err error) {
	ctx, done := d.observe(ctx, "delete")
	defer func() { done(err) }()

	if !model.ValidPhoneNumber(key) {
		return model.Contact{}, notFound(key)
	}

	unlock := d.locks.lock(key)
	defer unlock()

	err = d.store.RunInTx(ctx, false, func(tx Tx) error {
		current, err := tx.FindByPhone(ctx, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			return notFound(key)
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, current.Id); err != nil {
			return err
		}
		contact = current
		return nil
	})
	if err != nil {
		return model.Contact{}, d.translate(ctx, "delete", err, key)
	}
	d.logger.InfoContext(ctx, "contact deleted", "contact_id", contact.Id)
	return contact, nil
}

// ensureUnused fails with ErrDuplicateKey if a contact other than the one with id self uses the
// phone number.
func ensureUnused(ctx context.Context, tx Tx, phone string, self int64) error {
	existing, err := tx.FindByPhone(ctx, phone)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.Id != self {
		return duplicate(phone)
	}
	return nil
}

// translate maps storage facts onto directory errors and logs real storage failures.
func (d *Directory) translate(ctx context.Context, operation string, err error, phone string) error {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrDuplicateKey), errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, sentinel.ErrConflict):
		// Another process won the race; the unique constraint caught it.
		return duplicate(phone)
	}
	d.logger.ErrorContext(ctx, "storage failure", "operation", operation, "error", err)
	return err
}

// observe starts the span of an operation and returns the function that finishes it.
func (d *Directory) observe(ctx context.Context, operation string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "directory."+operation)
	return ctx, func(err error) {
		result := outcome(err)
		d.recorder.ObserveOperation(operation, result, time.Since(start))
		span.SetAttributes(attribute.String("directory.outcome", result))
		if result == "error" {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func validateCandidate(c model.ContactCandidate) error {
	if !model.ValidText(c.FirstName) {
		return invalid("first_name must have between 1 and %d characters", model.MaxTextLength)
	}
	if !model.ValidText(c.LastName) {
		return invalid("last_name must have between 1 and %d characters", model.MaxTextLength)
	}
	if !model.ValidPhoneNumber(c.PhoneNumber) {
		return invalid("phone_number must consist of 1 to %d digits", model.MaxPhoneLength)
	}
	if !model.ValidText(c.Address) {
		return invalid("address must have between 1 and %d characters", model.MaxTextLength)
	}
	return nil
}

func validatePatch(p model.ContactPatch) error {
	if p.FirstName != nil && !model.ValidText(*p.FirstName) {
		return invalid("first_name must have between 1 and %d characters", model.MaxTextLength)
	}
	if p.LastName != nil && !model.ValidText(*p.LastName) {
		return invalid("last_name must have between 1 and %d characters", model.MaxTextLength)
	}
	if p.PhoneNumber != nil && !model.ValidPhoneNumber(*p.PhoneNumber) {
		return invalid("phone_number must consist of 1 to %d digits", model.MaxPhoneLength)
	}
	if p.Address != nil && !model.ValidText(*p.Address) {
		return invalid("address must have between 1 and %d characters", model.MaxTextLength)
	}
	return nil
}
