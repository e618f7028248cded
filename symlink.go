package cryptofs

import (
	"github.com/cryptofs/cryptofs/internal/seal"
)

// Symlink stores a single UTF-8 target path string as a single
// encrypted blob; short strings need no chunking.
type Symlink struct {
	*FileBase
	target []byte
	loaded bool
}

func newSymlink(fb *FileBase) *Symlink {
	return &Symlink{FileBase: fb}
}

func (s *Symlink) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	pt, err := seal.ReadBlob(s.dataBacking, s.engine)
	if err != nil {
		if seal.IsAuthFailure(err) {
			return NewError(Corrupted, "Symlink.load", err).WithPath(s.id.String())
		}
		return NewError(IO, "Symlink.load", err).WithPath(s.id.String())
	}
	s.target = pt
	s.loaded = true
	return nil
}

// Set replaces the stored target; size becomes len(target).
func (s *Symlink) Set(target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = []byte(target)
	s.loaded = true
	s.setSizeLocked(int64(len(target)))
	return nil
}

// Get returns the full target string.
func (s *Symlink) Get() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoadedLocked(); err != nil {
		return "", err
	}
	return string(s.target), nil
}

// Flush persists the header and the target blob. A dirty flag set by a
// header-only change (chmod/chown) still requires loading the target
// first: re-encoding an unloaded (nil) target would overwrite the
// on-disk link with an empty one.
func (s *Symlink) Flush() error {
	s.mu.Lock()
	dirty := s.dirty
	if dirty {
		if err := s.ensureLoadedLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
		target := s.target
		if err := seal.WriteBlob(s.dataBacking, s.engine, target); err != nil {
			s.mu.Unlock()
			return NewError(IO, "Symlink.flush", err).WithPath(s.id.String())
		}
	}
	s.mu.Unlock()
	return s.FileBase.Flush()
}
