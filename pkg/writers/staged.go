package writers

import (
	"errors"
	"fmt"
	"os"
)

// stagedFile is an output file written under "<target>.tmp" and renamed onto
// target only when the writer commits. An aborted or failed write never
// leaves a file at target.
type stagedFile struct {
	*os.File
	target string
	closed bool
}

func createStaged(target string) (*stagedFile, error) {
	f, err := os.Create(target + ".tmp")
	if err != nil {
		return nil, err
	}
	return &stagedFile{File: f, target: target}, nil
}

// TempPath returns where output for target is staged.
func TempPath(target string) string {
	return target + ".tmp"
}

// commit closes the staged file and moves it onto the target path. flushErr
// is any error from flushing the format writer; if set, the file is
// discarded instead.
func (s *stagedFile) commit(flushErr error) error {
	if s.closed {
		return nil
	}
	s.closed = true

	// Some format writers close their sink themselves.
	closeErr := s.File.Close()
	if errors.Is(closeErr, os.ErrClosed) {
		closeErr = nil
	}
	if err := errors.Join(flushErr, closeErr); err != nil {
		os.Remove(s.Name())
		return err
	}
	if err := os.Rename(s.Name(), s.target); err != nil {
		os.Remove(s.Name())
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// abort closes and removes the staged file.
func (s *stagedFile) abort() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.File.Close()
	if err := os.Remove(s.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove staged output: %w", err)
	}
	return nil
}
