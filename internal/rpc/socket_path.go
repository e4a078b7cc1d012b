//go:build !windows

package rpc

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// MaxUnixSocketPath is the portable ceiling for Unix socket paths.
// macOS allows 104 bytes including the terminator, Linux 108.
const MaxUnixSocketPath = 103

// tmpDir is fixed at /tmp: macOS $TMPDIR is too long for socket paths.
const tmpDir = "/tmp"

// ShortSocketPath returns the socket path for a project root. The
// natural location is <root>/.trellis/trellis.sock; roots whose path
// would exceed the Unix limit get /tmp/trellis-<hash>/trellis.sock
// instead, with the hash derived from the canonicalized root so the
// same root always maps to the same socket.
func ShortSocketPath(root string) string {
	canonical, err := filepath.EvalSymlinks(root)
	if err != nil {
		canonical = filepath.Clean(root)
	}

	naturalPath := filepath.Join(root, ".trellis", "trellis.sock")
	if len(naturalPath) <= MaxUnixSocketPath {
		return naturalPath
	}

	hash := sha256.Sum256([]byte(canonical))
	dir := filepath.Join(tmpDir, "trellis-"+hex.EncodeToString(hash[:4]))
	return filepath.Join(dir, "trellis.sock")
}

// EnsureSocketDir creates the socket's parent directory. Hash
// directories under /tmp are created 0700; the .trellis directory is
// created alongside the audit log when absent.
func EnsureSocketDir(socketPath string) (string, error) {
	dir := filepath.Dir(socketPath)
	mode := os.FileMode(0o755)
	if strings.HasPrefix(dir, filepath.Join(tmpDir, "trellis-")) {
		mode = 0o700
	}
	if err := os.MkdirAll(dir, mode); err != nil {
		return "", err
	}
	return socketPath, nil
}

// CleanupSocketDir removes the socket file, and the directory too when
// it is a /tmp/trellis-* directory we created.
func CleanupSocketDir(socketPath string) error {
	dir := filepath.Dir(socketPath)
	if strings.HasPrefix(dir, filepath.Join(tmpDir, "trellis-")) {
		_ = os.Remove(socketPath)
		return os.Remove(dir)
	}
	return os.Remove(socketPath)
}
