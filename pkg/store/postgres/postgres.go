package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"github.com/platinummonkey/idsync/pkg/store"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = pq.ErrorCode("23505")

// Result codes returned by CreateAccount. Negative codes are failures and are
// surfaced to the caller unchanged.
const (
	CreateOK           = 1
	CreateErrInternal  = -1
	CreateErrDuplicate = -3
)

// Store implements store.RecordStore on PostgreSQL.
type Store struct {
	db           *sql.DB
	accountClass string
}

// NewStore creates a new PostgreSQL record store. accountClass is the class
// tag stamped on records created through CreateAccount and matched by
// SearchAccountsByProperty.
func NewStore(db *sql.DB, accountClass string) *Store {
	return &Store{db: db, accountClass: accountClass}
}

// InitSchema creates the record tables if they do not exist.
func (s *Store) InitSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS records (
			namespace  TEXT NOT NULL,
			name       TEXT NOT NULL,
			class      TEXT NOT NULL DEFAULT '',
			fields     JSONB NOT NULL DEFAULT '{}',
			body       TEXT NOT NULL DEFAULT '',
			syntax     TEXT NOT NULL DEFAULT '',
			rights     TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (namespace, name)
		);
		CREATE TABLE IF NOT EXISTS group_members (
			namespace  TEXT NOT NULL,
			name       TEXT NOT NULL,
			member     TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (namespace, name, member)
		);
		CREATE INDEX IF NOT EXISTS idx_records_class ON records (class);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Exists reports whether a record exists for the reference.
func (s *Store) Exists(ref store.RecordRef) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM records WHERE namespace = $1 AND name = $2)`,
		ref.Namespace, ref.Name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	return exists, nil
}

// Load returns the record for the reference, or a fresh IsNew record if none
// exists yet.
func (s *Store) Load(ref store.RecordRef) (*store.Record, error) {
	rec := &store.Record{
		Ref:    ref,
		Fields: make(map[string]string),
	}

	var fieldsJSON []byte
	err := s.db.QueryRow(
		`SELECT class, fields, body, syntax FROM records WHERE namespace = $1 AND name = $2`,
		ref.Namespace, ref.Name,
	).Scan(&rec.Class, &fieldsJSON, &rec.Body, &rec.Syntax)
	if err == sql.ErrNoRows {
		rec.IsNew = true
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record %s: %w", ref, err)
	}

	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields for %s: %w", ref, err)
		}
	}

	rows, err := s.db.Query(
		`SELECT member FROM group_members WHERE namespace = $1 AND name = $2 ORDER BY member`,
		ref.Namespace, ref.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load members for %s: %w", ref, err)
	}
	defer rows.Close()

	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("failed to scan member for %s: %w", ref, err)
		}
		rec.Members = append(rec.Members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read members for %s: %w", ref, err)
	}

	return rec, nil
}

// Save persists the record, creating it if necessary. Membership entries are
// replaced wholesale to match the in-memory record.
func (s *Store) Save(rec *store.Record) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields for %s: %w", rec.Ref, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO records (namespace, name, class, fields, body, syntax)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (namespace, name) DO UPDATE
		SET class = EXCLUDED.class, fields = EXCLUDED.fields,
		    body = EXCLUDED.body, syntax = EXCLUDED.syntax, updated_at = NOW()
	`, rec.Ref.Namespace, rec.Ref.Name, rec.Class, fieldsJSON, rec.Body, rec.Syntax)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", rec.Ref, err)
	}

	_, err = tx.Exec(
		`DELETE FROM group_members WHERE namespace = $1 AND name = $2`,
		rec.Ref.Namespace, rec.Ref.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to clear members for %s: %w", rec.Ref, err)
	}

	for _, member := range rec.Members {
		_, err = tx.Exec(`
			INSERT INTO group_members (namespace, name, member)
			VALUES ($1, $2, $3)
			ON CONFLICT (namespace, name, member) DO NOTHING
		`, rec.Ref.Namespace, rec.Ref.Name, member)
		if err != nil {
			return fmt.Errorf("failed to save member %q for %s: %w", member, rec.Ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit record %s: %w", rec.Ref, err)
	}

	rec.IsNew = false
	return nil
}

// SearchAccountsByProperty returns the distinct names of records of the given
// class whose named field equals the given value.
func (s *Store) SearchAccountsByProperty(class, property, value string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT name FROM records WHERE class = $1 AND fields->>$2 = $3 ORDER BY name`,
		class, property, value,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search accounts by %s: %w", property, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan account name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// CreateAccount creates an account record under the parent namespace. The
// result code is negative on failure: CreateErrDuplicate if the name is
// already taken, CreateErrInternal on a store failure.
func (s *Store) CreateAccount(name string, fields map[string]string, parent string, body, syntax, rights string) (int, error) {
	exists, err := s.Exists(store.RecordRef{Namespace: parent, Name: name})
	if err != nil {
		return CreateErrInternal, err
	}
	if exists {
		return CreateErrDuplicate, nil
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return CreateErrInternal, fmt.Errorf("failed to encode account fields: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO records (namespace, name, class, fields, body, syntax, rights)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, parent, name, s.accountClass, fieldsJSON, body, syntax, rights)
	if err != nil {
		// A concurrent creation can slip between the existence check and the
		// insert; the primary key turns that into a unique violation, which is
		// a duplicate name, not a store failure.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return CreateErrDuplicate, nil
		}
		return CreateErrInternal, fmt.Errorf("failed to create account %q: %w", name, err)
	}

	return CreateOK, nil
}

// ReserveUniqueName returns the candidate itself if free, otherwise the first
// free name in the sequence candidate1, candidate2, ... The walk is
// deterministic for a fixed set of existing names.
func (s *Store) ReserveUniqueName(namespace, candidate string) (string, error) {
	name := candidate
	for i := 1; ; i++ {
		exists, err := s.Exists(store.RecordRef{Namespace: namespace, Name: name})
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
		name = candidate + strconv.Itoa(i)
	}
}
