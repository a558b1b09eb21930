package reconcile

import (
	"context"
	"time"

	"github.com/platinummonkey/idsync/pkg/identity"
	"github.com/platinummonkey/idsync/pkg/observability"
	"github.com/platinummonkey/idsync/pkg/store"
)

// AccountDirectory resolves external identities to local accounts and creates
// accounts when none exists. All accounts live in a single fixed namespace
// chosen at directory construction, regardless of where the login arrived.
type AccountDirectory interface {
	// FindByExternalID returns the account associated with the external
	// identifier, if any.
	FindByExternalID(nameID string) (store.RecordRef, bool, error)

	// ReserveUniqueName returns an account name derived from candidate that
	// does not collide with any existing account.
	ReserveUniqueName(candidate string) (string, error)

	// CreateAccount creates a new active account carrying the given profile
	// fields and the external identifier.
	CreateAccount(name string, profile identity.MappedProfile, nameID string) (store.RecordRef, error)
}

// GroupSyncer converges an account's provider-managed group memberships to
// the claimed set.
type GroupSyncer interface {
	Sync(account store.RecordRef, claimed []string) error
}

// ProfileSyncer writes changed profile fields onto an account.
type ProfileSyncer interface {
	Sync(ref store.RecordRef, profile identity.MappedProfile) (bool, error)
}

// SessionMarker records a successful login and returns a session identifier.
type SessionMarker interface {
	Mark(ctx context.Context, account store.RecordRef, nameID string) (string, error)
}

// Result is the outcome of a successful reconciliation.
type Result struct {
	// Account is the resolved local account.
	Account store.RecordRef
	// SessionID identifies the login session, when a session marker is
	// configured.
	SessionID string
	// Created reports whether this login created the account.
	Created bool
}

// Config holds the reconciler's username derivation settings.
type Config struct {
	// UsernameFields is the ordered list of profile fields the account name
	// is derived from.
	UsernameFields []string
	// CapitalizeUsername upper-cases the first rune of each contributing
	// field value.
	CapitalizeUsername bool
}

// Reconciler is the top-level entry point: one call per validated login.
// Safe for concurrent use; per-login state never leaves Reconcile.
type Reconciler struct {
	mapper   *AttributeMapper
	dir      AccountDirectory
	profiles ProfileSyncer
	groups   GroupSyncer
	sessions SessionMarker
	cfg      Config
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewReconciler wires the reconciliation pipeline. sessions may be nil, in
// which case results carry no session identifier.
func NewReconciler(mapper *AttributeMapper, dir AccountDirectory, profiles ProfileSyncer, groups GroupSyncer, sessions SessionMarker, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		mapper:   mapper,
		dir:      dir,
		profiles: profiles,
		groups:   groups,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Reconcile maps the identity's attributes, resolves or creates the local
// account, converges profile fields and group memberships, and marks the
// session. Failure at any step aborts the remaining steps; writes already
// committed by earlier steps are not rolled back.
func (r *Reconciler) Reconcile(ctx context.Context, ident *identity.ExternalIdentity) (*Result, error) {
	start := time.Now()
	res, err := r.reconcile(ctx, ident)
	if r.metrics != nil {
		r.metrics.LoginDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			r.metrics.LoginsTotal.WithLabelValues("failure").Inc()
		} else {
			r.metrics.LoginsTotal.WithLabelValues("success").Inc()
		}
	}
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, ident *identity.ExternalIdentity) (*Result, error) {
	logger := r.logger.WithField("name_id", ident.NameID)

	profile := r.mapper.Map(ident.Attributes)

	ref, found, err := r.dir.FindByExternalID(ident.NameID)
	if err != nil {
		return nil, err
	}

	created := false
	if !found {
		candidate := GenerateUsername(profile, r.cfg.UsernameFields, r.cfg.CapitalizeUsername)
		if candidate == "" {
			return nil, &identity.UsernameGenerationError{NameID: ident.NameID}
		}
		name, err := r.dir.ReserveUniqueName(candidate)
		if err != nil {
			return nil, err
		}
		ref, err = r.dir.CreateAccount(name, profile, ident.NameID)
		if err != nil {
			return nil, err
		}
		created = true
		if r.metrics != nil {
			r.metrics.AccountsCreated.Inc()
		}
		logger.WithField("account", ref.String()).Info("created local account")
	} else {
		// Creation already wrote the mapped fields; only resolved accounts
		// need a profile pass.
		if _, err := r.profiles.Sync(ref, profile); err != nil {
			return nil, err
		}
	}

	if err := r.groups.Sync(ref, ident.Groups); err != nil {
		return nil, err
	}

	result := &Result{Account: ref, Created: created}
	if r.sessions != nil {
		sessionID, err := r.sessions.Mark(ctx, ref, ident.NameID)
		if err != nil {
			return nil, err
		}
		result.SessionID = sessionID
	}

	logger.WithFields(map[string]interface{}{
		"account": ref.String(),
		"created": created,
	}).Info("reconciled login")
	return result, nil
}
