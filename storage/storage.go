// Package storage keeps uploaded and edited PDFs in two directories on the
// local file system.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// EditedPrefix is prepended to an upload's name to form the edited output.
const EditedPrefix = "edited_"

var (
	// ErrInvalidName reports a file name that cannot be stored.
	ErrInvalidName = errors.New("invalid file name")
	// ErrNotAllowed reports an upload whose extension is not .pdf.
	ErrNotAllowed = errors.New("file type not allowed")
)

var allowedExtensions = map[string]bool{"pdf": true}

// AllowedFile reports whether name has an allowed extension.
func AllowedFile(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(name[i+1:])]
}

// CleanName reduces a client-supplied name to its final path element. The
// name is otherwise kept as the client sent it.
func CleanName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	if strings.ContainsRune(base, 0) {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return base, nil
}

func EditedName(name string) string { return EditedPrefix + name }

// Store resolves names inside the upload and modified directories.
type Store struct {
	uploadDir   string
	modifiedDir string
}

// New creates both directories if needed.
func New(uploadDir, modifiedDir string) (*Store, error) {
	for _, dir := range []string{uploadDir, modifiedDir} {
		if dir == "" {
			return nil, errors.New("storage: directory must not be empty")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}
	return &Store{uploadDir: uploadDir, modifiedDir: modifiedDir}, nil
}

func (s *Store) UploadDir() string   { return s.uploadDir }
func (s *Store) ModifiedDir() string { return s.modifiedDir }

// UploadPath returns the path of an uploaded file. The name must already be a
// single path element.
func (s *Store) UploadPath(name string) (string, error) {
	return join(s.uploadDir, name)
}

// ModifiedPath returns the path of an edited output file.
func (s *Store) ModifiedPath(name string) (string, error) {
	return join(s.modifiedDir, name)
}

func join(dir, name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}
	if clean != name {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return filepath.Join(dir, clean), nil
}

// SaveUpload stores r under name in the upload directory, replacing any
// earlier upload with the same name. check, when non-nil, is called with the
// path of the fully written temporary file; if it fails the earlier upload is
// left in place.
func (s *Store) SaveUpload(name string, r io.Reader, check func(path string) error) (string, error) {
	if !AllowedFile(name) {
		return "", fmt.Errorf("%q: %w", name, ErrNotAllowed)
	}
	path, err := s.UploadPath(name)
	if err != nil {
		return "", err
	}
	err = writeAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	}, check)
	if err != nil {
		return "", err
	}
	return path, nil
}

// Exists reports whether path names a regular file.
func Exists(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// WriteFileAtomic writes to a temporary file next to path and renames it
// into place once write succeeds. On failure nothing is left at path.
func WriteFileAtomic(path string, write func(io.Writer) error) error {
	return writeAtomic(path, write, nil)
}

// tempPath keeps the extension of path so format sniffing by name still works
// on the temporary file.
func tempPath(path string) string {
	return filepath.Join(filepath.Dir(path), ".tmp-"+uuid.NewString()+"-"+filepath.Base(path))
}

func writeAtomic(path string, write func(io.Writer) error, check func(string) error) (err error) {
	tmpPath := tempPath(path)
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	closed := false
	defer func() {
		if err != nil {
			if !closed {
				tmp.Close()
			}
			os.Remove(tmpPath)
		}
	}()
	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if check != nil {
		if err = check(tmpPath); err != nil {
			return err
		}
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}
