package model

// Contact is a single phonebook entry. The phone number identifies the entry towards clients, the
// id is assigned by the database and never changes.
type Contact struct {
	Id          int64  `json:"id"           db:"id"`
	FirstName   string `json:"first_name"   db:"first_name"`
	LastName    string `json:"last_name"    db:"last_name"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`
	Address     string `json:"address"      db:"address"`
}

// ContactCandidate is the data required for creating a contact. All fields are mandatory.
type ContactCandidate struct {
	FirstName   string `json:"first_name"   db:"first_name"   binding:"required,min=1,max=255"`
	LastName    string `json:"last_name"    db:"last_name"    binding:"required,min=1,max=255"`
	PhoneNumber string `json:"phone_number" db:"phone_number" binding:"required,phone"`
	Address     string `json:"address"      db:"address"      binding:"required,min=1,max=255"`
}

// ContactPatch holds the values of an update. Fields that are nil keep their current value.
type ContactPatch struct {
	FirstName   *string `json:"first_name,omitempty"   binding:"omitempty,min=1,max=255"`
	LastName    *string `json:"last_name,omitempty"    binding:"omitempty,min=1,max=255"`
	PhoneNumber *string `json:"phone_number,omitempty" binding:"omitempty,phone"`
	Address     *string `json:"address,omitempty"      binding:"omitempty,min=1,max=255"`
}

// IsEmpty returns true if the patch would not change anything.
func (p ContactPatch) IsEmpty() bool {
	return p.FirstName == nil && p.LastName == nil && p.PhoneNumber == nil && p.Address == nil
}

// Apply returns a copy of the contact with all values of the patch applied.
func (p ContactPatch) Apply(c Contact) Contact {
	if p.FirstName != nil {
		c.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		c.LastName = *p.LastName
	}
	if p.PhoneNumber != nil {
		c.PhoneNumber = *p.PhoneNumber
	}
	if p.Address != nil {
		c.Address = *p.Address
	}
	return c
}

// ContactFilter describes a search. Every non-empty field must match exactly.
type ContactFilter struct {
	PhoneNumber *string `form:"phone_number"`
	FirstName   *string `form:"first_name"`
	LastName    *string `form:"last_name"`
	Address     *string `form:"address"`
}

// Predicate is a single equality condition on a column of the contacts table.
type Predicate struct {
	Column string
	Value  string
}

// Predicates translates the filter into a conjunction of equality predicates. Omitted and empty
// fields are unconstrained and do not show up in the result.
func (f ContactFilter) Predicates() []Predicate {
	var predicates []Predicate
	add := func(column string, value *string) {
		if value != nil && *value != "" {
			predicates = append(predicates, Predicate{Column: column, Value: *value})
		}
	}
	add("phone_number", f.PhoneNumber)
	add("first_name", f.FirstName)
	add("last_name", f.LastName)
	add("address", f.Address)
	return predicates
}

// IsEmpty returns true if the filter does not constrain anything.
func (f ContactFilter) IsEmpty() bool {
	return len(f.Predicates()) == 0
}

// Column returns the value of the named column. Unknown column names yield the empty string.
func (c Contact) Column(name string) string {
	switch name {
	case "first_name":
		return c.FirstName
	case "last_name":
		return c.LastName
	case "phone_number":
		return c.PhoneNumber
	case "address":
		return c.Address
	}
	return ""
}

// StringPtr is a small helper for building patches and filters.
func StringPtr(s string) *string {
	return &s
}
