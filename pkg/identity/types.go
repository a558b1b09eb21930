package identity

// ExternalIdentity is the validated result of a single login at the identity
// provider: the provider-issued name identifier, the raw assertion attributes,
// and the group names the provider claims for this subject. It is built fresh
// for every login and consumed once by the reconciler.
type ExternalIdentity struct {
	NameID     string              `json:"name_id"`
	Attributes map[string][]string `json:"attributes,omitempty"`
	Groups     []string            `json:"groups,omitempty"`
}

// MappedProfile maps local profile field names to string values after the
// configured field-mapping rules have been applied. Fields with no mapping
// rule or no source value are absent, never empty strings.
type MappedProfile map[string]string
