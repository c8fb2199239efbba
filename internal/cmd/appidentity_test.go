package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/fiestalabs/fiesta/internal/appid"
	errwrap "github.com/fiestalabs/fiesta/internal/errors"
)

func TestAppIdentityLoading(t *testing.T) {
	identity, err := appid.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, identity)

	require.Equal(t, "fiesta", identity.BinaryName)
	require.Equal(t, "fiestalabs", identity.Vendor)
	require.Equal(t, "fiesta", identity.ConfigName)
	require.True(t, strings.HasSuffix(identity.EnvPrefix, "_"), identity.EnvPrefix)
}

func TestVersionReport(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2026-10-14")
	t.Cleanup(func() { SetVersionInfo("", "", "") })

	basic := buildVersionReport(false)
	require.Equal(t, "1.2.3", basic.Version)
	require.Equal(t, "abc123", basic.Commit)
	require.Empty(t, basic.Go)

	extendedReport := buildVersionReport(true)
	require.NotEmpty(t, extendedReport.Go)

	payload, err := json.Marshal(basic)
	require.NoError(t, err)
	require.NotContains(t, string(payload), "gofulmen")
}

func TestExitWithCodeUsesFoundryCode(t *testing.T) {
	var code int
	original := osExit
	osExit = func(c int) { code = c }
	t.Cleanup(func() { osExit = original })

	ExitWithCodeStderr(foundry.ExitConfigInvalid, "bad config", errwrap.NewConfigInvalidError("port out of range"))
	info, ok := foundry.GetExitCodeInfo(foundry.ExitConfigInvalid)
	require.True(t, ok)
	require.Equal(t, info.Code, code)
}

func TestWriteFatal(t *testing.T) {
	var buf bytes.Buffer
	writeFatal(&buf, "boom", nil)
	require.Equal(t, "FATAL: boom\n", buf.String())

	buf.Reset()
	writeFatal(&buf, "bad config", errwrap.NewConfigInvalidError("port out of range"))
	require.Contains(t, buf.String(), "FATAL: bad config [")
	require.Contains(t, buf.String(), "port out of range")
}
