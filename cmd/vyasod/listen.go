package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
)

// resolveUnixSocketPath mirrors the original daemon's per-OS socket
// path selection: a well-known Application Support directory on
// macOS, $XDG_RUNTIME_DIR (falling back to /tmp) on Linux, and /tmp on
// any other Unix.
func resolveUnixSocketPath() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home := os.Getenv("HOME")
		if home == "" {
			home = "."
		}
		dir := filepath.Join(home, "Library", "Application Support", "VyasoAI")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", err
		}
		return filepath.Join(dir, "vyasoai.sock"), nil
	case "linux":
		base := os.Getenv("XDG_RUNTIME_DIR")
		if base == "" {
			base = "/tmp"
		}
		if err := os.MkdirAll(base, 0o700); err != nil {
			return "", err
		}
		return filepath.Join(base, "vyasoai.sock"), nil
	default:
		return filepath.Join("/tmp", "vyasoai.sock"), nil
	}
}

// defaultTCPAddr is the loopback address used on Windows (no Unix
// domain sockets) and as the fallback when a Unix domain socket cannot
// be opened. An explicit VYASOAI_LISTEN_ADDR is used as given instead.
const defaultTCPAddr = "127.0.0.1:8765"

// bind selects the platform listener: TCP loopback on Windows, a Unix
// domain socket elsewhere (removing any stale socket file first), or
// whatever addr the caller explicitly supplied via config.
func bind(listenAddr string) (net.Listener, string, error) {
	if listenAddr != "" {
		ln, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return nil, "", fmt.Errorf("listen on %s: %w", listenAddr, err)
		}
		return ln, listenAddr, nil
	}

	if runtime.GOOS == "windows" {
		ln, err := net.Listen("tcp", defaultTCPAddr)
		if err != nil {
			return nil, "", fmt.Errorf("listen on %s: %w", defaultTCPAddr, err)
		}
		return ln, defaultTCPAddr, nil
	}

	sockPath, err := resolveUnixSocketPath()
	if err != nil {
		return nil, "", fmt.Errorf("resolve unix socket path: %w", err)
	}
	_ = os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		// Unix domain sockets unavailable on this host; fall back to
		// TCP loopback rather than failing to start entirely.
		ln, err2 := net.Listen("tcp", defaultTCPAddr)
		if err2 != nil {
			return nil, "", fmt.Errorf("listen on unix socket %s: %w; tcp fallback also failed: %v", sockPath, err, err2)
		}
		return ln, defaultTCPAddr, nil
	}
	return ln, sockPath, nil
}
