package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fiestalabs/fiesta/internal/config"
)

func TestResolveLocation(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StoreConfig
		want string
	}{
		{name: "remote url with token", cfg: config.StoreConfig{URL: "libsql://fiesta.turso.io", AuthToken: "t0k"}, want: "libsql://fiesta.turso.io?authToken=t0k"},
		{name: "token merged into query", cfg: config.StoreConfig{URL: "libsql://fiesta.turso.io?tls=1", AuthToken: "t0k"}, want: "libsql://fiesta.turso.io?authToken=t0k&tls=1"},
		{name: "explicit token in url wins", cfg: config.StoreConfig{URL: "libsql://fiesta.turso.io?authToken=mine", AuthToken: "other"}, want: "libsql://fiesta.turso.io?authToken=mine"},
		{name: "remote url without token", cfg: config.StoreConfig{URL: " libsql://fiesta.turso.io "}, want: "libsql://fiesta.turso.io"},
		{name: "memory", cfg: config.StoreConfig{Path: ":memory:"}, want: ":memory:"},
		{name: "libsql path passthrough", cfg: config.StoreConfig{Path: "libsql://replica"}, want: "libsql://replica"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loc, err := resolveLocation(tc.cfg)
			require.NoError(t, err)
			require.Equal(t, tc.want, loc.dsn)
			require.False(t, loc.local)
		})
	}
}

func TestResolveLocationCreatesParentDirectory(t *testing.T) {
	root := t.TempDir()

	bare := filepath.Join(root, "data", "fiesta.db")
	loc, err := resolveLocation(config.StoreConfig{Path: bare})
	require.NoError(t, err)
	require.Equal(t, "file:"+bare, loc.dsn)
	require.True(t, loc.local)
	require.DirExists(t, filepath.Join(root, "data"))

	prefixed := "file:" + filepath.Join(root, "other", "fiesta.db")
	loc, err = resolveLocation(config.StoreConfig{Path: prefixed})
	require.NoError(t, err)
	require.Equal(t, prefixed, loc.dsn)
	require.True(t, loc.local)
	_, err = os.Stat(filepath.Join(root, "other"))
	require.NoError(t, err)
}

func TestResolveLocationRequiresLocation(t *testing.T) {
	_, err := resolveLocation(config.StoreConfig{Path: "  "})
	require.ErrorContains(t, err, "store path or url is required")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	require.ErrorContains(t, err, "unsupported store driver: postgres")
}
