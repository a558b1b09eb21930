// Package storetest provides an in-memory RecordStore for tests.
package storetest

import (
	"sort"
	"strconv"
	"sync"

	"github.com/platinummonkey/idsync/pkg/store"
)

// Result codes mirroring the PostgreSQL store.
const (
	CreateOK           = 1
	CreateErrDuplicate = -3
)

// MemStore is a thread-safe in-memory store.RecordStore. Zero value is not
// usable; construct with New.
type MemStore struct {
	mu      sync.Mutex
	records map[store.RecordRef]*store.Record

	// AccountClass is stamped on records created via CreateAccount.
	AccountClass string

	// CreateCode, when non-zero, is returned by CreateAccount instead of
	// performing the creation. Lets tests simulate store refusals.
	CreateCode int

	// FailSearch/FailLoad/FailSave, when set, are returned as errors by the
	// corresponding operations.
	FailSearch error
	FailLoad   error
	FailSave   error

	// SaveCount counts successful Save calls.
	SaveCount int
}

// New creates an empty in-memory store.
func New() *MemStore {
	return &MemStore{
		records:      make(map[store.RecordRef]*store.Record),
		AccountClass: "account",
	}
}

func (m *MemStore) Exists(ref store.RecordRef) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[ref]
	return ok, nil
}

func (m *MemStore) Load(ref store.RecordRef) (*store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLoad != nil {
		return nil, m.FailLoad
	}
	if rec, ok := m.records[ref]; ok {
		return copyRecord(rec), nil
	}
	return &store.Record{Ref: ref, Fields: make(map[string]string), IsNew: true}, nil
}

func (m *MemStore) Save(rec *store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	stored := copyRecord(rec)
	stored.IsNew = false
	m.records[rec.Ref] = stored
	rec.IsNew = false
	m.SaveCount++
	return nil
}

func (m *MemStore) SearchAccountsByProperty(class, property, value string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSearch != nil {
		return nil, m.FailSearch
	}
	seen := make(map[string]bool)
	var names []string
	for ref, rec := range m.records {
		if rec.Class != class {
			continue
		}
		if v, ok := rec.Fields[property]; ok && v == value && !seen[ref.Name] {
			seen[ref.Name] = true
			names = append(names, ref.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) CreateAccount(name string, fields map[string]string, parent string, body, syntax, rights string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateCode != 0 {
		return m.CreateCode, nil
	}
	ref := store.RecordRef{Namespace: parent, Name: name}
	if _, ok := m.records[ref]; ok {
		return CreateErrDuplicate, nil
	}
	rec := &store.Record{
		Ref:    ref,
		Class:  m.AccountClass,
		Fields: make(map[string]string),
		Body:   body,
		Syntax: syntax,
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	m.records[ref] = rec
	return CreateOK, nil
}

func (m *MemStore) ReserveUniqueName(namespace, candidate string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := candidate
	for i := 1; ; i++ {
		if _, ok := m.records[store.RecordRef{Namespace: namespace, Name: name}]; !ok {
			return name, nil
		}
		name = candidate + strconv.Itoa(i)
	}
}

// Get returns the stored record for a reference, or nil. Test helper.
func (m *MemStore) Get(ref store.RecordRef) *store.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[ref]; ok {
		return copyRecord(rec)
	}
	return nil
}

// Put stores a record directly. Test helper.
func (m *MemStore) Put(rec *store.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := copyRecord(rec)
	stored.IsNew = false
	m.records[rec.Ref] = stored
}

func copyRecord(rec *store.Record) *store.Record {
	out := &store.Record{
		Ref:    rec.Ref,
		Class:  rec.Class,
		Body:   rec.Body,
		Syntax: rec.Syntax,
		IsNew:  rec.IsNew,
		Fields: make(map[string]string, len(rec.Fields)),
	}
	for k, v := range rec.Fields {
		out.Fields[k] = v
	}
	out.Members = append(out.Members, rec.Members...)
	return out
}
