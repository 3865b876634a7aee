package circuit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Directives stripped from the base configuration: each instance gets
// its own ports, data directory, and log destination.
var perInstanceDirectives = []string{
	"socksport",
	"controlport",
	"datadirectory",
	"log",
}

// GenerateTorrc derives one instance's configuration from the shared
// base file. Per-instance directives are replaced and relative paths in
// the base (plugin binaries, geoip data) are resolved against the base
// file's directory, since each instance runs with a different working
// directory.
func GenerateTorrc(basePath string, socksPort, controlPort int, dataDir string) (string, error) {
	raw, err := os.ReadFile(basePath)
	if err != nil {
		return "", fmt.Errorf("read base torrc %s: %w", basePath, err)
	}

	baseDir, err := filepath.Abs(filepath.Dir(basePath))
	if err != nil {
		return "", fmt.Errorf("resolve base torrc dir: %w", err)
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}

	var b strings.Builder
	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			b.WriteString(line + "\n")
			continue
		}
		if isPerInstance(trimmed) {
			continue
		}
		b.WriteString(resolveRelativePaths(line, baseDir) + "\n")
	}

	fmt.Fprintf(&b, "\nSocksPort %d\n", socksPort)
	fmt.Fprintf(&b, "ControlPort %d\n", controlPort)
	fmt.Fprintf(&b, "DataDirectory %s\n", absDataDir)
	fmt.Fprintf(&b, "Log notice file %s\n", filepath.Join(absDataDir, "notices.log"))
	return b.String(), nil
}

// WriteTorrc generates and writes the instance torrc, returning its path.
func WriteTorrc(basePath string, socksPort, controlPort int, dataDir string) (string, error) {
	content, err := GenerateTorrc(basePath, socksPort, controlPort, dataDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, "torrc")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("write torrc: %w", err)
	}
	return path, nil
}

func isPerInstance(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	key := strings.ToLower(fields[0])
	for _, d := range perInstanceDirectives {
		if key == d {
			return true
		}
	}
	return false
}

// resolveRelativePaths rewrites "./x" tokens to absolute paths under
// the base directory.
func resolveRelativePaths(line, baseDir string) string {
	fields := strings.Fields(line)
	changed := false
	for i, f := range fields {
		if strings.HasPrefix(f, "./") {
			fields[i] = filepath.Join(baseDir, f[2:])
			changed = true
		}
	}
	if !changed {
		return line
	}
	return strings.Join(fields, " ")
}

// Cache files copied from the long-lived reference instance. A warm
// directory cache cuts bootstrap from minutes to seconds.
var seedFiles = []string{
	"cached-certs",
	"cached-microdesc-consensus",
	"cached-microdescs",
	"cached-microdescs.new",
	"cached-descriptors",
	"cached-descriptors.new",
}

// SeedCache copies the reference instance's directory cache into an
// instance data dir. Missing source files are skipped.
func SeedCache(mainDataDir, dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir %s: %w", dataDir, err)
	}
	for _, name := range seedFiles {
		data, err := os.ReadFile(filepath.Join(mainDataDir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("read cache file %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dataDir, name), data, 0o600); err != nil {
			return fmt.Errorf("seed cache file %s: %w", name, err)
		}
	}
	return nil
}

// ClearLock removes a stale data-directory lock left by a killed
// process.
func ClearLock(dataDir string) error {
	err := os.Remove(filepath.Join(dataDir, "lock"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear lock: %w", err)
	}
	return nil
}
