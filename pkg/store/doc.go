// Package store defines the persistence contract the reconciliation engine
// requires: document-style records with named string fields and, for group
// records, a list of membership entries. Implementations live in
// subpackages; pkg/store/postgres is the production one.
package store
