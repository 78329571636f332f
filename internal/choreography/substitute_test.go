package choreography

import (
	"reflect"
	"testing"
)

func TestSubstituteVariables(t *testing.T) {
	vars := map[string]any{
		"userId":   "u1",
		"count":    3,
		"user":     map[string]any{"name": "Ada"},
		"build.id": "b-42",
	}

	tests := []struct {
		name   string
		inputs map[string]any
		want   map[string]any
	}{
		{
			name:   "exact reference is replaced",
			inputs: map[string]any{"a": "${userId}", "b": "literal"},
			want:   map[string]any{"a": "u1", "b": "literal"},
		},
		{
			name:   "unknown reference is kept verbatim",
			inputs: map[string]any{"c": "${missing}"},
			want:   map[string]any{"c": "${missing}"},
		},
		{
			name:   "non-string values keep their type",
			inputs: map[string]any{"n": 7, "flag": true, "ref": "${count}"},
			want:   map[string]any{"n": 7, "flag": true, "ref": 3},
		},
		{
			name:   "embedded reference is not expanded",
			inputs: map[string]any{"msg": "hello ${userId}"},
			want:   map[string]any{"msg": "hello ${userId}"},
		},
		{
			name:   "nested values are not substituted",
			inputs: map[string]any{"nested": map[string]any{"id": "${userId}"}},
			want:   map[string]any{"nested": map[string]any{"id": "${userId}"}},
		},
		{
			name:   "dotted reference is an exact key",
			inputs: map[string]any{"name": "${user.name}"},
			want:   map[string]any{"name": "${user.name}"},
		},
		{
			name:   "dotted key present verbatim is replaced",
			inputs: map[string]any{"v": "${build.id}"},
			want:   map[string]any{"v": "b-42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SubstituteVariables(tt.inputs, vars)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SubstituteVariables() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSubstituteVariables_DoesNotAliasVariables(t *testing.T) {
	vars := map[string]any{"cfg": map[string]any{"k": "v"}}

	got := SubstituteVariables(map[string]any{"c": "${cfg}"}, vars)
	got["c"].(map[string]any)["k"] = "changed"

	if vars["cfg"].(map[string]any)["k"] != "v" {
		t.Error("substituted value aliases the variable map")
	}
}
