package directory

import (
	"time"

	"github.com/platinummonkey/idsync/pkg/identity"
	"github.com/platinummonkey/idsync/pkg/observability"
	"github.com/platinummonkey/idsync/pkg/store"
)

// Defaults for newly created account records.
const (
	DefaultAccountBody   = "{{include reference=\"AccountSheet\" /}}"
	DefaultAccountSyntax = "plain/1.0"
	DefaultAccountRights = "edit=owner"
)

// Config holds the directory's account placement settings.
type Config struct {
	// Namespace is the top-level namespace every account is created in,
	// regardless of where the login request arrived.
	Namespace string
	// AccountClass is the record class accounts are stored and searched
	// under.
	AccountClass string
	// ExternalIDProperty is the account field carrying the provider-issued
	// name identifier. Immutable after creation; must be globally unique per
	// account.
	ExternalIDProperty string
}

// Directory looks up and creates local accounts keyed by the external
// identity property.
type Directory struct {
	store   store.RecordStore
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New creates an account directory over the given store.
func New(st store.RecordStore, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Directory {
	return &Directory{store: st, cfg: cfg, logger: logger, metrics: metrics}
}

// FindByExternalID looks up the account whose external-identity property
// equals nameID. More than one distinct match is a data-integrity problem and
// returns an AmbiguousIdentityError rather than picking one.
func (d *Directory) FindByExternalID(nameID string) (store.RecordRef, bool, error) {
	start := time.Now()
	names, err := d.store.SearchAccountsByProperty(d.cfg.AccountClass, d.cfg.ExternalIDProperty, nameID)
	d.observeStore("search_accounts", start, err)
	if err != nil {
		return store.RecordRef{}, false, &identity.PersistenceError{Op: "search accounts by external id", Err: err}
	}
	switch len(names) {
	case 0:
		return store.RecordRef{}, false, nil
	case 1:
		return store.RecordRef{Namespace: d.cfg.Namespace, Name: names[0]}, true, nil
	default:
		return store.RecordRef{}, false, &identity.AmbiguousIdentityError{NameID: nameID, Matches: names}
	}
}

// ReserveUniqueName returns an account name derived from candidate that does
// not collide with any existing record in the account namespace.
func (d *Directory) ReserveUniqueName(candidate string) (string, error) {
	start := time.Now()
	name, err := d.store.ReserveUniqueName(d.cfg.Namespace, candidate)
	d.observeStore("reserve_unique_name", start, err)
	if err != nil {
		return "", &identity.PersistenceError{Op: "reserve unique account name", Err: err}
	}
	return name, nil
}

// CreateAccount creates an active account carrying the mapped profile fields
// and the external identifier. The external-identity property is written in
// the same creation step as the profile, so a created account is never
// durably visible without it. A negative store result code surfaces as an
// AccountCreationError carrying that code.
func (d *Directory) CreateAccount(name string, profile identity.MappedProfile, nameID string) (store.RecordRef, error) {
	fields := make(map[string]string, len(profile)+2)
	for k, v := range profile {
		fields[k] = v
	}
	fields[d.cfg.ExternalIDProperty] = nameID
	fields["active"] = "1"

	start := time.Now()
	code, err := d.store.CreateAccount(name, fields, d.cfg.Namespace, DefaultAccountBody, DefaultAccountSyntax, DefaultAccountRights)
	d.observeStore("create_account", start, err)
	if err != nil {
		return store.RecordRef{}, &identity.PersistenceError{Op: "create account " + name, Err: err}
	}
	if code < 0 {
		return store.RecordRef{}, &identity.AccountCreationError{NameID: nameID, Code: code}
	}

	ref := store.RecordRef{Namespace: d.cfg.Namespace, Name: name}
	d.logger.WithFields(map[string]interface{}{
		"account": ref.String(),
		"name_id": nameID,
	}).Info("created account for external identity")
	return ref, nil
}

func (d *Directory) observeStore(op string, start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	d.metrics.StoreOperationsTotal.WithLabelValues(op).Inc()
	d.metrics.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		d.metrics.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
}
