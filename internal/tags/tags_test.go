package tags_test

import (
	"slices"
	"testing"

	"github.com/clambin/smokeping/internal/tags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		global  map[string]string
		local   map[string]string
		want    []string
		wantErr error
	}{
		{
			name:   "no local tags",
			global: map[string]string{"k1": "global", "k2": "conflict_global"},
			local:  map[string]string{},
			want:   []string{"k1:global", "k2:conflict_global"},
		},
		{
			name:   "local overrides global",
			global: map[string]string{"k1": "global", "k2": "conflict_global"},
			local:  map[string]string{"k2": "override", "k3": "2"},
			want:   []string{"k1:global", "k2:override", "k3:2"},
		},
		{
			name:  "no global tags",
			local: map[string]string{"k3": "2"},
			want:  []string{"k3:2"},
		},
		{
			name:    "missing tags",
			global:  map[string]string{"k1": "global"},
			wantErr: tags.ErrMissingTags,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tags.Merge(tt.global, tt.local)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			slices.Sort(got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMerge_Idempotent(t *testing.T) {
	global := map[string]string{"k1": "global", "k2": "conflict_global"}
	local := map[string]string{"k2": "override"}

	first, err := tags.Merge(global, local)
	require.NoError(t, err)
	second, err := tags.Merge(global, local)
	require.NoError(t, err)

	slices.Sort(first)
	slices.Sort(second)
	assert.Equal(t, first, second)
	assert.Equal(t, map[string]string{"k1": "global", "k2": "conflict_global"}, global)
}

func TestParse(t *testing.T) {
	assert.Equal(t,
		map[string]string{"key1": "global", "key2": "a:b", "bare": ""},
		tags.Parse([]string{"key1:global", "key2:a:b", "bare"}),
	)
	assert.Empty(t, tags.Parse(nil))
}
