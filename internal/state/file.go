package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/appstate/internal/config"
)

// DefaultPath returns the conventional state file location for appName:
// <tmp>/.<app_name>.state
func DefaultPath(appName string) string {
	safe := strings.NewReplacer("/", "-", "\\", "-").Replace(strings.TrimSpace(appName))
	return filepath.Join(os.TempDir(), "."+safe+".state")
}

type saveOptions struct {
	codec  Codec
	atomic bool
	perm   os.FileMode
	mkdir  bool
}

// SaveOption customizes SaveState.
type SaveOption func(*saveOptions)

// WithAtomic writes to <path>.tmp, syncs it and renames it over path.
func WithAtomic() SaveOption { return func(o *saveOptions) { o.atomic = true } }

// WithPerm sets the file mode for newly created files. Defaults to 0o600.
func WithPerm(p os.FileMode) SaveOption { return func(o *saveOptions) { o.perm = p } }

// WithCodec overrides the codec, e.g. to change MaxFieldLen.
func WithCodec(c Codec) SaveOption { return func(o *saveOptions) { o.codec = c } }

// WithMkdir creates the parent directory when it is missing.
func WithMkdir() SaveOption { return func(o *saveOptions) { o.mkdir = true } }

// SaveState creates or truncates path and writes s.
// Without WithAtomic a failed write may leave a partial file behind.
func SaveState(path string, s PersistedState, opts ...SaveOption) error {
	o := saveOptions{perm: 0o600}
	for _, fn := range opts {
		fn(&o)
	}
	data, err := o.codec.Marshal(s)
	if err != nil {
		return err
	}
	if o.mkdir {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return &IOError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
		}
	}
	if o.atomic {
		return writeAtomic(path, data, o.perm)
	}
	return writeDirect(path, data, o.perm)
}

func writeDirect(path string, data []byte, perm os.FileMode) error {
	// #nosec G304 -- path is chosen by the host.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return &IOError{Op: "open", Path: path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &IOError{Op: "close", Path: path, Err: err}
	}
	return nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	// #nosec G304 -- path is chosen by the host.
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return &IOError{Op: "open", Path: tmp, Err: err}
	}
	fail := func(op string, err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &IOError{Op: op, Path: tmp, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return &IOError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// LoadState reads path with the default codec.
func LoadState(path string) (PersistedState, error) {
	return LoadStateWith(defaultCodec, path)
}

// LoadStateWith reads path with c.
func LoadStateWith(c Codec, path string) (PersistedState, error) {
	clean := filepath.Clean(path)
	// #nosec G304 -- path is chosen by the host.
	f, err := os.Open(clean)
	if err != nil {
		return PersistedState{}, &IOError{Op: "open", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	s, err := c.Decode(f)
	if err != nil {
		var ioErr *IOError
		if errors.As(err, &ioErr) && ioErr.Path == "" {
			ioErr.Path = path
		}
		return PersistedState{}, err
	}
	return s, nil
}

// DeleteState removes path. A missing file is not an error.
func DeleteState(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &IOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// ResolvePath returns cfg.Path, or DefaultPath(appName) when it is empty.
func ResolvePath(cfg config.StateConfig, appName string) string {
	if p := strings.TrimSpace(cfg.Path); p != "" {
		return p
	}
	return DefaultPath(appName)
}
