package common

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	_, err := CleanPath("../etc/passwd")
	assert.Error(t, err)

	// a name that merely contains dots is fine
	p, err := CleanPath("/tmp/report..v2.pbix")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/report..v2.pbix", p)

	rel, err := CleanPath("notebooks")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(rel))
}

func TestValidatePath(t *testing.T) {
	base := t.TempDir()

	inside, err := ValidatePath(filepath.Join(base, "a", "b.csv"), base)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "a", "b.csv"), inside)

	_, err = ValidatePath(base+"-sibling/file", base)
	assert.Error(t, err)
}

func TestJoinPath(t *testing.T) {
	base := t.TempDir()

	p, err := JoinPath(base, "data", "samples", "customer.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "data", "samples", "customer.csv"), p)
}

func TestRemotePath(t *testing.T) {
	tests := []struct {
		segments []string
		want     string
		wantErr  bool
	}{
		{segments: []string{"Files", "samples", "customer.csv"}, want: "Files/samples/customer.csv"},
		{segments: []string{"/Files/", "./samples//sub", "x.csv"}, want: "Files/samples/sub/x.csv"},
		{segments: []string{"notebooks/bronze_to_silver"}, want: "notebooks/bronze_to_silver"},
		{segments: []string{"Files", "../secret"}, wantErr: true},
		{segments: nil, want: ""},
	}

	for _, tt := range tests {
		got, err := RemotePath(tt.segments...)
		if tt.wantErr {
			assert.Error(t, err, tt.segments)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
