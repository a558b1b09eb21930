package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUsername(t *testing.T) {
	tests := []struct {
		name       string
		profile    map[string]string
		fieldOrder []string
		capitalize bool
		expected   string
	}{
		{
			name:       "two fields capitalized",
			profile:    map[string]string{"first_name": "arthur", "last_name": "dent", "email": "arthur.dent@x"},
			fieldOrder: []string{"first_name", "last_name"},
			capitalize: true,
			expected:   "ArthurDent",
		},
		{
			name:       "single field no capitalization",
			profile:    map[string]string{"first_name": "arthur"},
			fieldOrder: []string{"first_name", "last_name"},
			capitalize: false,
			expected:   "arthur",
		},
		{
			name:       "single field capitalized",
			profile:    map[string]string{"first_name": "arthur"},
			fieldOrder: []string{"first_name", "last_name"},
			capitalize: true,
			expected:   "Arthur",
		},
		{
			name:       "mixed case preserved without capitalization",
			profile:    map[string]string{"first_name": "arthur", "last_name": "Dent"},
			fieldOrder: []string{"first_name", "last_name"},
			capitalize: false,
			expected:   "arthurDent",
		},
		{
			name:       "blank fields skipped without separator",
			profile:    map[string]string{"first_name": "  ", "last_name": "dent"},
			fieldOrder: []string{"first_name", "last_name"},
			capitalize: true,
			expected:   "Dent",
		},
		{
			name:       "values trimmed",
			profile:    map[string]string{"first_name": " arthur ", "last_name": " dent "},
			fieldOrder: []string{"first_name", "last_name"},
			capitalize: true,
			expected:   "ArthurDent",
		},
		{
			name:       "all fields blank",
			profile:    map[string]string{"first_name": "", "last_name": "   "},
			fieldOrder: []string{"first_name", "last_name"},
			capitalize: true,
			expected:   "",
		},
		{
			name:       "missing fields",
			profile:    map[string]string{},
			fieldOrder: []string{"first_name", "last_name"},
			capitalize: true,
			expected:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateUsername(tt.profile, tt.fieldOrder, tt.capitalize)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestGenerateUsername_Deterministic(t *testing.T) {
	profile := map[string]string{"first_name": "arthur", "last_name": "dent"}
	order := []string{"first_name", "last_name"}

	first := GenerateUsername(profile, order, true)
	second := GenerateUsername(profile, order, true)

	assert.Equal(t, first, second)
	assert.Equal(t, map[string]string{"first_name": "arthur", "last_name": "dent"}, profile)
}
