// Package project stores the files a workflow run produces.
//
// Every project is a directory under a common base dir. Paths inside a project
// may contain subdirectories; everything is created on demand. Archives are
// bzip2-compressed tarballs written next to the project directory.
package project

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"go.uber.org/zap"
)

// FileInfo describes one stored file.
type FileInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Store is the boundary the workflow engine writes artifacts through.
type Store interface {
	Write(project, relPath, content string) (string, error)
	Read(project, relPath string) (string, error)
	List(project string) ([]FileInfo, error)
	Archive(project string) (string, error)
}

// ErrProjectNotFound is returned for operations on a project that has no files.
var ErrProjectNotFound = errors.New("project not found")

// DirStore implements Store on a local directory tree.
type DirStore struct {
	base   string
	logger *zap.Logger
}

// NewDirStore creates a store rooted at base.
func NewDirStore(base string, logger *zap.Logger) *DirStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirStore{base: base, logger: logger}
}

// SanitizeName reduces a project name to alphanumerics, dashes and
// underscores. An empty result becomes "unnamed_project" so model-chosen names
// can never escape the base directory.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	safe := strings.TrimSpace(b.String())
	if safe == "" {
		return "unnamed_project"
	}
	return safe
}

// projectPath returns the directory for a project without creating it.
func (s *DirStore) projectPath(project string) string {
	return filepath.Join(s.base, SanitizeName(project))
}

// Write stores content at relPath inside the project, creating directories as
// needed. It returns the absolute path of the written file.
func (s *DirStore) Write(project, relPath, content string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("file path must not be empty")
	}
	clean := filepath.Clean(relPath)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("file path %q escapes the project directory", relPath)
	}

	dest := filepath.Join(s.projectPath(project), clean)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create project directory: %w", err)
	}
	if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", clean, err)
	}

	s.logger.Debug("file written",
		zap.String("project", SanitizeName(project)),
		zap.String("file", clean),
		zap.Int("size", len(content)))
	return dest, nil
}

// Read returns the content of a project file.
func (s *DirStore) Read(project, relPath string) (string, error) {
	clean := filepath.Clean(relPath)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("file path %q escapes the project directory", relPath)
	}

	data, err := os.ReadFile(filepath.Join(s.projectPath(project), clean))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", relPath)
		}
		return "", fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	return string(data), nil
}

// List walks the project directory and returns every file with its size,
// paths relative to the project root.
func (s *DirStore) List(project string) ([]FileInfo, error) {
	root := s.projectPath(project)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, SanitizeName(project))
		}
		return nil, fmt.Errorf("failed to stat project: %w", err)
	}

	var files []FileInfo
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Name: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list project files: %w", err)
	}
	return files, nil
}

// Archive packs the project into <base>/<project>.tar.bz2 and returns the
// archive path. Entries are stored under the project name, matching what the
// sandbox expects when it extracts.
func (s *DirStore) Archive(project string) (string, error) {
	safe := SanitizeName(project)
	root := s.projectPath(project)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrProjectNotFound, safe)
		}
		return "", fmt.Errorf("failed to stat project: %w", err)
	}

	archivePath := filepath.Join(s.base, safe+".tar.bz2")
	f, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}
	defer f.Close()

	bw, err := bzip2.NewWriter(f, &bzip2.WriterConfig{Level: bzip2.DefaultCompression})
	if err != nil {
		return "", fmt.Errorf("failed to create bzip2 writer: %w", err)
	}
	tw := tar.NewWriter(bw)

	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(filepath.Join(safe, rel))

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive project: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize tar: %w", err)
	}
	if err := bw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize bzip2 stream: %w", err)
	}

	s.logger.Info("archive created",
		zap.String("project", safe),
		zap.String("archive", archivePath))
	return archivePath, nil
}

// Extract unpacks a .tar.bz2 archive into dest. Used by the sandbox before
// execution and by archive verification.
func Extract(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	br, err := bzip2.NewReader(f, nil)
	if err != nil {
		return fmt.Errorf("failed to open bzip2 stream: %w", err)
	}
	tr := tar.NewReader(br)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}

		clean := filepath.Clean(hdr.Name)
		if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			return fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		target := filepath.Join(dest, clean)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", clean, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", clean, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", clean, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("failed to extract %s: %w", clean, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("failed to close %s: %w", clean, err)
			}
		}
	}
}
