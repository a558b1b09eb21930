package reconcile

import (
	"strings"

	"github.com/platinummonkey/idsync/pkg/identity"
	"github.com/platinummonkey/idsync/pkg/observability"
)

// AttributeMapper translates provider attribute names into local profile field
// names. The mapping table is built once from configuration and never mutated,
// so a single mapper is safe to share across concurrent logins.
type AttributeMapper struct {
	// byProviderAttr maps a provider attribute name to the local field it
	// feeds. Provider attribute names are unique within one table, so rule
	// order does not matter.
	byProviderAttr map[string]string
	logger         *observability.Logger
}

// NewAttributeMapper builds a mapper from "localField=providerField" rules.
// Malformed rules are logged and skipped.
func NewAttributeMapper(rules []string, logger *observability.Logger) *AttributeMapper {
	table := make(map[string]string, len(rules))
	for _, rule := range rules {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		parts := strings.Split(rule, "=")
		if len(parts) != 2 {
			logger.WithField("rule", rule).Warn("skipping malformed field mapping rule")
			continue
		}
		local := strings.TrimSpace(parts[0])
		provider := strings.TrimSpace(parts[1])
		if local == "" || provider == "" {
			logger.WithField("rule", rule).Warn("skipping malformed field mapping rule")
			continue
		}
		table[provider] = local
	}
	return &AttributeMapper{byProviderAttr: table, logger: logger}
}

// Rules returns the number of valid mapping rules in the table.
func (m *AttributeMapper) Rules() int {
	return len(m.byProviderAttr)
}

// Map applies the mapping table to raw provider attributes. Multi-valued
// attributes are joined with "," before mapping. Provider attributes with no
// rule, and rules whose provider attribute is absent, produce no entry.
func (m *AttributeMapper) Map(raw map[string][]string) identity.MappedProfile {
	profile := make(identity.MappedProfile, len(m.byProviderAttr))
	for providerAttr, local := range m.byProviderAttr {
		values, ok := raw[providerAttr]
		if !ok || len(values) == 0 {
			continue
		}
		profile[local] = strings.Join(values, ",")
	}
	return profile
}
