// Package persistence implements crash-safe JSON storage: atomic
// temp-file-then-rename writes, a stable per-project key derivation, a
// breakpoint store keyed by project, and a session snapshot store used
// for recovery after a relay restart.
package persistence

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// ErrorKind enumerates persistence failure modes.
type ErrorKind string

const (
	ErrWriteFailed  ErrorKind = "write_failed"
	ErrInvalidFmt   ErrorKind = "invalid_format"
)

// Error wraps a persistence-layer failure.
type Error struct {
	Kind    ErrorKind
	Path    string
	Cause   error
}

func (e *Error) Error() string {
	return "persistence: " + string(e.Kind) + ": " + e.Path + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// ProjectKey derives the stable 16-hex identifier for a project root by
// resolving symlinks and taking an 8-byte blake2b digest of the resolved
// path, which hex-encodes to exactly 16 characters.
func ProjectKey(projectRoot string) (string, error) {
	resolved, err := filepath.EvalSymlinks(projectRoot)
	if err != nil {
		// Absent or unresolvable paths still need a stable key (e.g. a
		// project not yet materialized on disk); fall back to the
		// cleaned input path.
		resolved = filepath.Clean(projectRoot)
	}
	return blake2bDigest16(resolved)
}

func blake2bDigest16(s string) (string, error) {
	h, err := blake2b.New(8, nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AtomicWrite serializes value to JSON and writes it to target via a
// temp-file-then-rename so a crash mid-write leaves either the prior or
// the new file intact, never a partial one. The temp name carries a uuid
// suffix so two concurrent writers to the same target never collide on
// the same temp file.
func AtomicWrite(target string, value any) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return &Error{Kind: ErrWriteFailed, Path: target, Cause: err}
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return &Error{Kind: ErrWriteFailed, Path: target, Cause: err}
	}

	tmp := target + ".tmp." + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return &Error{Kind: ErrWriteFailed, Path: target, Cause: err}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return &Error{Kind: ErrWriteFailed, Path: target, Cause: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &Error{Kind: ErrWriteFailed, Path: target, Cause: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &Error{Kind: ErrWriteFailed, Path: target, Cause: err}
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return &Error{Kind: ErrWriteFailed, Path: target, Cause: err}
	}
	return nil
}

// SafeRead reads and unmarshals target into dst. ok is false (with a nil
// error) when the file is absent; parse failures return an
// invalid_format Error.
func SafeRead(target string, dst any) (ok bool, err error) {
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &Error{Kind: ErrInvalidFmt, Path: target, Cause: err}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, &Error{Kind: ErrInvalidFmt, Path: target, Cause: err}
	}
	return true, nil
}

// SafeDelete removes target, reporting whether it existed.
func SafeDelete(target string) (existed bool, err error) {
	err = os.Remove(target)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
