package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/idsync/pkg/directory"
	"github.com/platinummonkey/idsync/pkg/groups"
	"github.com/platinummonkey/idsync/pkg/identity"
	"github.com/platinummonkey/idsync/pkg/store"
	"github.com/platinummonkey/idsync/pkg/store/storetest"
)

const testDefaultGroup = "ExternalUsers"

func newTestReconciler(mem *storetest.MemStore, sessions SessionMarker) *Reconciler {
	logger := testLogger()
	mapper := NewAttributeMapper([]string{
		"email=email",
		"first_name=firstName",
		"last_name=lastName",
	}, logger)
	dir := directory.New(mem, directory.Config{
		Namespace:          "users",
		AccountClass:       "account",
		ExternalIDProperty: "external_id",
	}, logger, nil)
	profiles := NewProfileSynchronizer(mem, logger, nil)
	groupSync := groups.New(mem, groups.Config{
		Namespace:             "groups",
		ManagedGroupsProperty: "managed_groups",
		DefaultGroup:          testDefaultGroup,
	}, logger, nil)
	return NewReconciler(mapper, dir, profiles, groupSync, sessions, Config{
		UsernameFields:     []string{"first_name", "last_name"},
		CapitalizeUsername: true,
	}, logger, nil)
}

func arthur() *identity.ExternalIdentity {
	return &identity.ExternalIdentity{
		NameID: "nameid-42",
		Attributes: map[string][]string{
			"firstName": {"arthur"},
			"lastName":  {"dent"},
			"email":     {"arthur.dent@example.com"},
		},
		Groups: []string{"G1"},
	}
}

func TestReconcile_FirstLoginCreatesAccount(t *testing.T) {
	mem := storetest.New()
	r := newTestReconciler(mem, nil)

	result, err := r.Reconcile(context.Background(), arthur())
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, store.RecordRef{Namespace: "users", Name: "ArthurDent"}, result.Account)

	account := mem.Get(result.Account)
	require.NotNil(t, account)
	assert.Equal(t, "nameid-42", account.Fields["external_id"])
	assert.Equal(t, "1", account.Fields["active"])
	assert.Equal(t, "arthur.dent@example.com", account.Fields["email"])
	assert.Equal(t, "ExternalUsers,G1", account.Fields["managed_groups"])

	g1 := mem.Get(store.RecordRef{Namespace: "groups", Name: "G1"})
	require.NotNil(t, g1)
	assert.True(t, g1.HasMember("ArthurDent"))

	def := mem.Get(store.RecordRef{Namespace: "groups", Name: testDefaultGroup})
	require.NotNil(t, def)
	assert.True(t, def.HasMember("ArthurDent"))
}

func TestReconcile_IdempotentRelogin(t *testing.T) {
	mem := storetest.New()
	r := newTestReconciler(mem, nil)

	first, err := r.Reconcile(context.Background(), arthur())
	require.NoError(t, err)
	savesAfterFirst := mem.SaveCount

	second, err := r.Reconcile(context.Background(), arthur())
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.Account, second.Account)
	// Unchanged attributes and groups mean no writes at all on re-login.
	assert.Equal(t, savesAfterFirst, mem.SaveCount)
	assert.Equal(t, "ExternalUsers,G1", mem.Get(first.Account).Fields["managed_groups"])
}

func TestReconcile_GroupRoundTrip(t *testing.T) {
	mem := storetest.New()
	r := newTestReconciler(mem, nil)

	ident := arthur()
	result, err := r.Reconcile(context.Background(), ident)
	require.NoError(t, err)

	ident.Groups = []string{"G2"}
	_, err = r.Reconcile(context.Background(), ident)
	require.NoError(t, err)

	g1 := mem.Get(store.RecordRef{Namespace: "groups", Name: "G1"})
	require.NotNil(t, g1)
	assert.False(t, g1.HasMember("ArthurDent"))

	g2 := mem.Get(store.RecordRef{Namespace: "groups", Name: "G2"})
	require.NotNil(t, g2)
	assert.True(t, g2.HasMember("ArthurDent"))

	account := mem.Get(result.Account)
	assert.Equal(t, "ExternalUsers,G2", account.Fields["managed_groups"])
}

func TestReconcile_ProfileChangesSynced(t *testing.T) {
	mem := storetest.New()
	r := newTestReconciler(mem, nil)

	ident := arthur()
	result, err := r.Reconcile(context.Background(), ident)
	require.NoError(t, err)

	ident.Attributes["email"] = []string{"arthur@magrathea.example"}
	_, err = r.Reconcile(context.Background(), ident)
	require.NoError(t, err)

	account := mem.Get(result.Account)
	assert.Equal(t, "arthur@magrathea.example", account.Fields["email"])
	// The username derives from creation only; a changed profile never
	// renames the account.
	assert.Equal(t, "ArthurDent", result.Account.Name)
}

func TestReconcile_BlankUsernameIsFatal(t *testing.T) {
	mem := storetest.New()
	r := newTestReconciler(mem, nil)

	_, err := r.Reconcile(context.Background(), &identity.ExternalIdentity{
		NameID: "nameid-99",
		Attributes: map[string][]string{
			"email": {"no.name@example.com"},
		},
	})

	assert.True(t, identity.IsUsernameGeneration(err))
	assert.Equal(t, 0, mem.SaveCount)
	names, serr := mem.SearchAccountsByProperty("account", "external_id", "nameid-99")
	require.NoError(t, serr)
	assert.Empty(t, names)
}

func TestReconcile_CreationFailureSurfacesStoreCode(t *testing.T) {
	mem := storetest.New()
	mem.CreateCode = -3
	r := newTestReconciler(mem, nil)

	_, err := r.Reconcile(context.Background(), arthur())

	require.Error(t, err)
	assert.True(t, identity.IsAccountCreation(err))
	assert.Contains(t, err.Error(), "-3")
	assert.Contains(t, err.Error(), "nameid-42")
}

func TestReconcile_AmbiguousLookupAborts(t *testing.T) {
	mem := storetest.New()
	for _, name := range []string{"ArthurDent", "ArthurDent1"} {
		mem.Put(&store.Record{
			Ref:    store.RecordRef{Namespace: "users", Name: name},
			Class:  "account",
			Fields: map[string]string{"external_id": "nameid-42"},
		})
	}
	r := newTestReconciler(mem, nil)

	_, err := r.Reconcile(context.Background(), arthur())

	assert.True(t, identity.IsAmbiguousIdentity(err))
	assert.Equal(t, 0, mem.SaveCount)
}

func TestReconcile_UniqueNameSuffixOnCollision(t *testing.T) {
	mem := storetest.New()
	mem.Put(&store.Record{
		Ref:    store.RecordRef{Namespace: "users", Name: "ArthurDent"},
		Class:  "account",
		Fields: map[string]string{"external_id": "someone-else"},
	})
	r := newTestReconciler(mem, nil)

	result, err := r.Reconcile(context.Background(), arthur())
	require.NoError(t, err)
	assert.Equal(t, "ArthurDent1", result.Account.Name)
}

type fakeMarker struct {
	id  string
	err error

	account store.RecordRef
	nameID  string
}

func (f *fakeMarker) Mark(ctx context.Context, account store.RecordRef, nameID string) (string, error) {
	f.account = account
	f.nameID = nameID
	return f.id, f.err
}

func TestReconcile_MarksSession(t *testing.T) {
	mem := storetest.New()
	marker := &fakeMarker{id: "sess-1"}
	r := newTestReconciler(mem, marker)

	result, err := r.Reconcile(context.Background(), arthur())
	require.NoError(t, err)

	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, result.Account, marker.account)
	assert.Equal(t, "nameid-42", marker.nameID)
}

func TestReconcile_SessionFailureAborts(t *testing.T) {
	mem := storetest.New()
	marker := &fakeMarker{err: errors.New("redis down")}
	r := newTestReconciler(mem, marker)

	_, err := r.Reconcile(context.Background(), arthur())
	assert.Error(t, err)
}
