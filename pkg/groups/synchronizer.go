package groups

import (
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/idsync/pkg/identity"
	"github.com/platinummonkey/idsync/pkg/observability"
	"github.com/platinummonkey/idsync/pkg/store"
)

// Defaults for group records materialized on first membership.
const (
	DefaultGroupClass  = "group"
	DefaultGroupBody   = "{{include reference=\"GroupSheet\" /}}"
	DefaultGroupSyntax = "plain/1.0"
)

// ManagedSetDelimiter joins the managed group set into the single string
// property stored on the account.
const ManagedSetDelimiter = ","

// Config holds the group synchronizer's settings.
type Config struct {
	// Namespace is the namespace group records live in.
	Namespace string
	// ManagedGroupsProperty is the account field recording which groups this
	// engine, rather than an administrator, is responsible for.
	ManagedGroupsProperty string
	// DefaultGroup is added to every account's target set unconditionally.
	// May be empty.
	DefaultGroup string
}

// Synchronizer converges provider-managed memberships. Memberships the engine
// never added are left alone: removal only applies to groups recorded in the
// account's managed set.
//
// Mutations of the same group record are serialized through a per-group lock
// so concurrent logins joining one group cannot lose a membership to a racing
// read-modify-save. Different groups do not contend.
type Synchronizer struct {
	store   store.RecordStore
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a group synchronizer over the given store.
func New(st store.RecordStore, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Synchronizer {
	return &Synchronizer{
		store:   st,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *Synchronizer) groupLock(group string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[group]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[group] = lock
	}
	return lock
}

// ParseManagedSet splits the stored managed-groups property into a set.
// Blank elements, including the single empty element a naive split of an
// empty string produces, are dropped.
func ParseManagedSet(value string) map[string]bool {
	set := make(map[string]bool)
	for _, g := range strings.Split(value, ManagedSetDelimiter) {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		set[g] = true
	}
	return set
}

// FormatManagedSet serializes a group set to the delimited string property,
// sorted for deterministic storage.
func FormatManagedSet(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for g := range set {
		names = append(names, g)
	}
	sort.Strings(names)
	return strings.Join(names, ManagedSetDelimiter)
}

// Sync converges the account's memberships to the claimed set plus the
// configured default group. Groups in the previously recorded managed set but
// not claimed now are removed; every target group is added (duplicate adds
// are no-ops). The managed set property is rewritten to equal the target set.
func (s *Synchronizer) Sync(account store.RecordRef, claimed []string) error {
	rec, err := s.store.Load(account)
	if err != nil {
		return &identity.PersistenceError{Op: "load account " + account.String(), Err: err}
	}
	stored, _ := rec.Field(s.cfg.ManagedGroupsProperty)
	previous := ParseManagedSet(stored)

	target := make(map[string]bool, len(claimed)+1)
	for _, g := range claimed {
		g = strings.TrimSpace(g)
		if g == "" {
			s.logger.WithField("account", account.String()).Warn("ignoring blank group name in claimed groups")
			continue
		}
		target[g] = true
	}
	if s.cfg.DefaultGroup != "" {
		target[s.cfg.DefaultGroup] = true
	}

	for g := range previous {
		if !target[g] {
			if err := s.RemoveMembership(account, g); err != nil {
				return err
			}
		}
	}
	for g := range target {
		if err := s.AddMembership(account, g); err != nil {
			return err
		}
	}

	serialized := FormatManagedSet(target)
	if serialized != stored {
		rec.SetField(s.cfg.ManagedGroupsProperty, serialized)
		if err := s.store.Save(rec); err != nil {
			return &identity.PersistenceError{Op: "save managed group set on " + account.String(), Err: err}
		}
	}
	return nil
}

// AddMembership records the account as a member of the group. A blank group
// name is skipped with a warning; an existing membership is a no-op. A group
// record that does not exist yet is initialized with default content before
// its first save.
func (s *Synchronizer) AddMembership(account store.RecordRef, group string) error {
	if strings.TrimSpace(group) == "" {
		s.logger.WithField("account", account.String()).Warn("ignoring membership add for blank group name")
		s.countOp("skip")
		return nil
	}

	lock := s.groupLock(group)
	lock.Lock()
	defer lock.Unlock()

	ref := store.RecordRef{Namespace: s.cfg.Namespace, Name: group}
	rec, err := s.store.Load(ref)
	if err != nil {
		return &identity.PersistenceError{Op: "load group " + ref.String(), Err: err}
	}
	if rec.HasMember(account.Name) {
		s.logger.WithFields(map[string]interface{}{
			"account": account.String(),
			"group":   group,
		}).Warn("membership already recorded, skipping duplicate add")
		s.countOp("skip")
		return nil
	}
	if rec.IsNew {
		rec.Class = DefaultGroupClass
		rec.Body = DefaultGroupBody
		rec.Syntax = DefaultGroupSyntax
	}
	rec.AddMember(account.Name)
	if err := s.store.Save(rec); err != nil {
		return &identity.PersistenceError{Op: "save group " + ref.String(), Err: err}
	}
	s.countOp("add")
	s.logger.WithFields(map[string]interface{}{
		"account": account.String(),
		"group":   group,
	}).Debug("added group membership")
	return nil
}

// RemoveMembership deletes the account's membership in the group. A blank
// group name is skipped with a warning; a missing membership is a no-op.
func (s *Synchronizer) RemoveMembership(account store.RecordRef, group string) error {
	if strings.TrimSpace(group) == "" {
		s.logger.WithField("account", account.String()).Warn("ignoring membership remove for blank group name")
		s.countOp("skip")
		return nil
	}

	lock := s.groupLock(group)
	lock.Lock()
	defer lock.Unlock()

	ref := store.RecordRef{Namespace: s.cfg.Namespace, Name: group}
	rec, err := s.store.Load(ref)
	if err != nil {
		return &identity.PersistenceError{Op: "load group " + ref.String(), Err: err}
	}
	if rec.IsNew || !rec.RemoveMember(account.Name) {
		return nil
	}
	if err := s.store.Save(rec); err != nil {
		return &identity.PersistenceError{Op: "save group " + ref.String(), Err: err}
	}
	s.countOp("remove")
	s.logger.WithFields(map[string]interface{}{
		"account": account.String(),
		"group":   group,
	}).Debug("removed group membership")
	return nil
}

func (s *Synchronizer) countOp(op string) {
	if s.metrics != nil {
		s.metrics.GroupSyncOpsTotal.WithLabelValues(op).Inc()
	}
}
