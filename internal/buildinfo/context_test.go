package buildinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextGetters(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ctx  *Context
		want [3]string
	}{
		{"nil context", nil, [3]string{UnknownValue, UnknownValue, UnknownValue}},
		{"empty context", &Context{}, [3]string{UnknownValue, UnknownValue, UnknownValue}},
		{"populated", &Context{Version: "v1.2.0", BuildDate: "2024-05-01", SystemID: "abc"}, [3]string{"v1.2.0", "2024-05-01", "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, [3]string{tt.ctx.GetVersion(), tt.ctx.GetBuildDate(), tt.ctx.GetSystemID()})
		})
	}
}

func TestLoadSystemIDIsStable(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "state")

	first, err := New("dev", "").LoadSystemID(dir)
	require.NoError(t, err)
	require.NoError(t, uuid.Validate(first))

	c := New("dev", "")
	second, err := c.LoadSystemID(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, first, c.GetSystemID())
}

func TestLoadSystemIDReplacesCorruptFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".system_id"), []byte("not-a-uuid"), 0o600))

	id, err := New("dev", "").LoadSystemID(dir)
	require.NoError(t, err)
	assert.NoError(t, uuid.Validate(id))
}
