package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// maxNameCollisions bounds the numeric suffixes tried for one name.
const maxNameCollisions = 1000

// Store persists completed files into a download directory.
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a store writing into it.
func NewStore(dir string) (*Store, error) {
	cleaned, err := ValidatePath(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cleaned, 0o755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}
	return &Store{dir: cleaned}, nil
}

// Dir returns the download directory.
func (s *Store) Dir() string { return s.dir }

// Save writes data under the sanitized suggested name. An existing file is
// never overwritten: "name (1).ext", "name (2).ext" and so on are tried.
func (s *Store) Save(name string, data []byte) (string, error) {
	base, err := SanitizeName(name)
	if err != nil {
		return "", err
	}

	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	for i := 0; i < maxNameCollisions; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(s.dir, candidate)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}

		if _, err := f.Write(data); err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("close %s: %w", path, err)
		}

		logrus.WithFields(logrus.Fields{
			"function": "Save",
			"path":     path,
			"bytes":    len(data),
		}).Info("Received file saved")
		return path, nil
	}

	return "", fmt.Errorf("no free name for %q in %s", base, s.dir)
}
