package circuit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const baseTorrc = `# base configuration
SocksPort 9050
ControlPort 9051
DataDirectory /var/lib/tor
Log notice file /var/log/tor/notices.log
ClientTransportPlugin obfs4 exec ./pt/obfs4proxy
GeoIPFile ./geoip
CircuitBuildTimeout 30
`

func writeBase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "torrc")
	require.NoError(t, os.WriteFile(path, []byte(baseTorrc), 0o644))
	return path
}

func TestGenerateTorrcSubstitutesPerInstanceDirectives(t *testing.T) {
	base := writeBase(t)
	dataDir := filepath.Join(t.TempDir(), "pool-0")

	content, err := GenerateTorrc(base, 9150, 9250, dataDir)
	require.NoError(t, err)

	require.Contains(t, content, "SocksPort 9150")
	require.Contains(t, content, "ControlPort 9250")
	require.NotContains(t, content, "SocksPort 9050")
	require.NotContains(t, content, "ControlPort 9051")
	require.NotContains(t, content, "/var/lib/tor")
	require.NotContains(t, content, "/var/log/tor")
	require.Contains(t, content, "CircuitBuildTimeout 30")
}

func TestGenerateTorrcResolvesRelativePaths(t *testing.T) {
	base := writeBase(t)
	baseDir := filepath.Dir(base)

	content, err := GenerateTorrc(base, 9150, 9250, t.TempDir())
	require.NoError(t, err)

	require.Contains(t, content, filepath.Join(baseDir, "pt", "obfs4proxy"))
	require.Contains(t, content, "GeoIPFile "+filepath.Join(baseDir, "geoip"))
	require.NotContains(t, content, " ./pt/")
}

func TestWriteTorrc(t *testing.T) {
	base := writeBase(t)
	dataDir := filepath.Join(t.TempDir(), "pool-1")

	path, err := WriteTorrc(base, 9151, 9251, dataDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dataDir, "torrc"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "SocksPort 9151"))
}

func TestSeedCacheCopiesWarmFiles(t *testing.T) {
	mainDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mainDir, "cached-certs"), []byte("certs"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(mainDir, "cached-microdesc-consensus"), []byte("consensus"), 0o600))

	dataDir := filepath.Join(t.TempDir(), "pool-0")
	require.NoError(t, SeedCache(mainDir, dataDir))

	data, err := os.ReadFile(filepath.Join(dataDir, "cached-certs"))
	require.NoError(t, err)
	require.Equal(t, "certs", string(data))

	// Files absent from the reference cache are simply skipped.
	_, err = os.Stat(filepath.Join(dataDir, "cached-descriptors"))
	require.True(t, os.IsNotExist(err))
}

func TestClearLock(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, ClearLock(dataDir), "missing lock is fine")
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "lock"), nil, 0o600))
	require.NoError(t, ClearLock(dataDir))
	_, err := os.Stat(filepath.Join(dataDir, "lock"))
	require.True(t, os.IsNotExist(err))
}

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool-pids.json")
	recs := []PIDRecord{
		{PID: 1234, SocksPort: 9150, ControlPort: 9250},
		{PID: 1235, SocksPort: 9151, ControlPort: 9251},
	}
	require.NoError(t, WritePIDFile(path, recs))

	loaded, err := LoadPIDFile(path)
	require.NoError(t, err)
	require.Equal(t, recs, loaded)

	require.NoError(t, RemovePIDFile(path))
	loaded, err = LoadPIDFile(path)
	require.NoError(t, err)
	require.Nil(t, loaded)
}
