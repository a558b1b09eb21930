package postgres

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idsync/pkg/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, "account"), mock
}

func TestExists(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM records WHERE namespace = $1 AND name = $2)`)).
		WithArgs("users", "ArthurDent").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.Exists(store.RecordRef{Namespace: "users", Name: "ArthurDent"})
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_MissingRecordIsNew(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT class, fields, body, syntax FROM records WHERE namespace = $1 AND name = $2`)).
		WithArgs("users", "ArthurDent").
		WillReturnRows(sqlmock.NewRows([]string{"class", "fields", "body", "syntax"}))

	rec, err := s.Load(store.RecordRef{Namespace: "users", Name: "ArthurDent"})
	require.NoError(t, err)
	assert.True(t, rec.IsNew)
	assert.Empty(t, rec.Fields)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_ExistingRecord(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT class, fields, body, syntax FROM records WHERE namespace = $1 AND name = $2`)).
		WithArgs("groups", "G1").
		WillReturnRows(sqlmock.NewRows([]string{"class", "fields", "body", "syntax"}).
			AddRow("group", []byte(`{"managed":"true"}`), "body", "plain/1.0"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT member FROM group_members WHERE namespace = $1 AND name = $2 ORDER BY member`)).
		WithArgs("groups", "G1").
		WillReturnRows(sqlmock.NewRows([]string{"member"}).AddRow("ArthurDent").AddRow("FordPrefect"))

	rec, err := s.Load(store.RecordRef{Namespace: "groups", Name: "G1"})
	require.NoError(t, err)
	assert.False(t, rec.IsNew)
	assert.Equal(t, "group", rec.Class)
	assert.Equal(t, "true", rec.Fields["managed"])
	assert.Equal(t, []string{"ArthurDent", "FordPrefect"}, rec.Members)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_ReplacesMembers(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records`)).
		WithArgs("groups", "G1", "group", sqlmock.AnyArg(), "body", "plain/1.0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM group_members WHERE namespace = $1 AND name = $2`)).
		WithArgs("groups", "G1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO group_members`)).
		WithArgs("groups", "G1", "ArthurDent").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := &store.Record{
		Ref:     store.RecordRef{Namespace: "groups", Name: "G1"},
		Class:   "group",
		Fields:  map[string]string{},
		Members: []string{"ArthurDent"},
		Body:    "body",
		Syntax:  "plain/1.0",
		IsNew:   true,
	}
	require.NoError(t, s.Save(rec))
	assert.False(t, rec.IsNew)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSave_RollsBackOnMemberFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM group_members`)).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	rec := &store.Record{
		Ref:    store.RecordRef{Namespace: "groups", Name: "G1"},
		Fields: map[string]string{},
		IsNew:  true,
	}
	err := s.Save(rec)
	assert.Error(t, err)
	assert.True(t, rec.IsNew)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchAccountsByProperty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT DISTINCT name FROM records WHERE class = $1 AND fields->>$2 = $3 ORDER BY name`)).
		WithArgs("account", "external_id", "nameid-1").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("ArthurDent"))

	names, err := s.SearchAccountsByProperty("account", "external_id", "nameid-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ArthurDent"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("users", "ArthurDent").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records`)).
		WithArgs("users", "ArthurDent", "account", sqlmock.AnyArg(), "body", "plain/1.0", "edit=owner").
		WillReturnResult(sqlmock.NewResult(0, 1))

	code, err := s.CreateAccount("ArthurDent", map[string]string{"active": "1"}, "users", "body", "plain/1.0", "edit=owner")
	require.NoError(t, err)
	assert.Equal(t, CreateOK, code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount_DuplicateName(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("users", "ArthurDent").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	code, err := s.CreateAccount("ArthurDent", nil, "users", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, CreateErrDuplicate, code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount_ConcurrentCreationLosesRace(t *testing.T) {
	s, mock := newMockStore(t)

	// The name is free at check time but another creation commits first; the
	// primary key rejects the insert. That is a duplicate, not a store error.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("users", "ArthurDent").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records`)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	code, err := s.CreateAccount("ArthurDent", nil, "users", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, CreateErrDuplicate, code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount_InsertFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO records`)).
		WillReturnError(assert.AnError)

	code, err := s.CreateAccount("ArthurDent", nil, "users", "", "", "")
	assert.Error(t, err)
	assert.Equal(t, CreateErrInternal, code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveUniqueName(t *testing.T) {
	s, mock := newMockStore(t)

	existsQuery := regexp.QuoteMeta(`SELECT EXISTS`)
	mock.ExpectQuery(existsQuery).WithArgs("users", "ArthurDent").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(existsQuery).WithArgs("users", "ArthurDent1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(existsQuery).WithArgs("users", "ArthurDent2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	name, err := s.ReserveUniqueName("users", "ArthurDent")
	require.NoError(t, err)
	assert.Equal(t, "ArthurDent2", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}
