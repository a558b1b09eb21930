package store

// RecordRef identifies a record by namespace and name.
type RecordRef struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

func (r RecordRef) String() string {
	return r.Namespace + "." + r.Name
}

// Record is a persisted document-style record: named string fields, an
// optional list of membership child entries (group records only), and an
// initial body/syntax used when the record is first materialized.
//
// A Record loaded for a reference that does not exist yet has IsNew set and
// empty fields; saving it creates the record.
type Record struct {
	Ref     RecordRef         `json:"ref"`
	Class   string            `json:"class,omitempty"`
	Fields  map[string]string `json:"fields"`
	Members []string          `json:"members,omitempty"`
	Body    string            `json:"body,omitempty"`
	Syntax  string            `json:"syntax,omitempty"`
	IsNew   bool              `json:"is_new"`
}

// Field returns the value of a named field and whether it is set.
func (r *Record) Field(name string) (string, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// SetField sets a named field value.
func (r *Record) SetField(name, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[name] = value
}

// HasMember reports whether a membership entry for the given account name
// exists on this record.
func (r *Record) HasMember(account string) bool {
	for _, m := range r.Members {
		if m == account {
			return true
		}
	}
	return false
}

// AddMember appends a membership entry. Callers are expected to check
// HasMember first; duplicate entries are not added.
func (r *Record) AddMember(account string) {
	if r.HasMember(account) {
		return
	}
	r.Members = append(r.Members, account)
}

// RemoveMember deletes the membership entry for the given account name and
// reports whether one was present.
func (r *Record) RemoveMember(account string) bool {
	for i, m := range r.Members {
		if m == account {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

// RecordStore is the persistence contract the reconciliation engine requires.
// Implementations must make ReserveUniqueName deterministic for a fixed set
// of existing names, and must report account-creation failure through the
// integer result code (negative = failure) rather than inventing errors.
type RecordStore interface {
	// Exists reports whether a record exists for the reference.
	Exists(ref RecordRef) (bool, error)

	// Load returns the record for the reference. A missing record is not an
	// error: the returned record has IsNew set and empty fields.
	Load(ref RecordRef) (*Record, error)

	// Save persists the record (fields, members, body, syntax), creating it
	// if it does not exist yet. Clears IsNew on success.
	Save(rec *Record) error

	// SearchAccountsByProperty returns the distinct names of records of the
	// given class whose named field equals the given value.
	SearchAccountsByProperty(class, property, value string) ([]string, error)

	// CreateAccount creates an account record with the given fields under the
	// parent namespace. The returned result code is negative on failure.
	CreateAccount(name string, fields map[string]string, parent string, body, syntax, rights string) (int, error)

	// ReserveUniqueName returns a name derived from candidate that does not
	// collide with any existing record name in the namespace.
	ReserveUniqueName(namespace, candidate string) (string, error)
}
