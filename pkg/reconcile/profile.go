package reconcile

import (
	"github.com/platinummonkey/idsync/pkg/identity"
	"github.com/platinummonkey/idsync/pkg/observability"
	"github.com/platinummonkey/idsync/pkg/store"
)

// ProfileSynchronizer writes freshly mapped profile fields onto a stored
// account, touching only fields whose value actually changed. Fields present
// on the account but absent from the new profile are left alone.
type ProfileSynchronizer struct {
	store   store.RecordStore
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewProfileSynchronizer creates a profile synchronizer over the given store.
func NewProfileSynchronizer(st store.RecordStore, logger *observability.Logger, metrics *observability.Metrics) *ProfileSynchronizer {
	return &ProfileSynchronizer{store: st, logger: logger, metrics: metrics}
}

// Sync compares newProfile against the stored account fields and writes the
// differing ones. A single save is issued, and only when at least one field
// changed. Returns whether anything was written.
func (s *ProfileSynchronizer) Sync(ref store.RecordRef, newProfile identity.MappedProfile) (bool, error) {
	rec, err := s.store.Load(ref)
	if err != nil {
		return false, &identity.PersistenceError{Op: "load account " + ref.String(), Err: err}
	}

	changed := 0
	for field, value := range newProfile {
		current, ok := rec.Field(field)
		if ok && current == value {
			continue
		}
		rec.SetField(field, value)
		changed++
	}
	if changed == 0 {
		return false, nil
	}

	if err := s.store.Save(rec); err != nil {
		return false, &identity.PersistenceError{Op: "save account " + ref.String(), Err: err}
	}
	if s.metrics != nil {
		s.metrics.ProfileFieldWrites.Add(float64(changed))
	}
	s.logger.WithFields(map[string]interface{}{
		"account":        ref.String(),
		"fields_changed": changed,
	}).Debug("synchronized profile fields")
	return true, nil
}
