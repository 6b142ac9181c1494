package licensekey

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallationFingerprint_Override(t *testing.T) {
	t.Setenv(FingerprintEnv, "build-agent-7")
	fp, err := InstallationFingerprint("100802")
	require.NoError(t, err)
	assert.Equal(t, "build-agent-7", fp)
}

func TestInstallationFingerprint_MachineID(t *testing.T) {
	t.Setenv(FingerprintEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "machine-id")
	require.NoError(t, os.WriteFile(path, []byte("aaaa\n"), 0o600))

	old := machineIDPath
	machineIDPath = path
	t.Cleanup(func() { machineIDPath = old })

	first, err := InstallationFingerprint("100802")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{64}$`, first)
	again, err := InstallationFingerprint("100802")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, os.WriteFile(path, []byte("bbbb\n"), 0o600))
	other, err := InstallationFingerprint("100802")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestInstallationFingerprint_PerLicense(t *testing.T) {
	t.Setenv(FingerprintEnv, "")
	a, err := InstallationFingerprint("100802")
	require.NoError(t, err)
	b, err := InstallationFingerprint("4242")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestMachineFacts_DigestFraming(t *testing.T) {
	// Moving characters between adjacent facts changes the digest.
	a := machineFacts{hostname: "ab", platform: "linux/amd64", machineID: "c"}
	b := machineFacts{hostname: "a", platform: "linux/amd64", machineID: "bc"}
	assert.NotEqual(t, a.digest("7"), b.digest("7"))
	assert.Equal(t, a.digest("7"), a.digest("7"))
}
