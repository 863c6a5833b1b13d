package devenv

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	plain, err := ResolvePath("cookies.json")
	require.NoError(t, err)
	require.Equal(t, "cookies.json", plain)

	resolved, err := ResolvePath("<dev_state>/journal.db")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(resolved, filepath.Join("dev", ".state", "journal.db")), resolved)
}
