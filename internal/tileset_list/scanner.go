package tileset_list

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Scanner builds a Registry from the archives found under a root directory.
type Scanner struct {
	rootDir   string
	extension string
	logger    *zap.Logger
}

func New(rootDir, extension string, logger *zap.Logger) *Scanner {
	return &Scanner{
		rootDir:   rootDir,
		extension: strings.ToLower(extension),
		logger:    logger,
	}
}

// RootDir returns the directory the scanner walks.
func (s *Scanner) RootDir() string {
	return s.rootDir
}

// Scan walks the root directory once. Files are visited in lexical order, so
// when two archives share a stem the one visited last wins.
func (s *Scanner) Scan() (*Registry, error) {
	root, err := filepath.Abs(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data directory is not a directory: %s", root)
	}

	paths := make(map[string]string)

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}

		ext := filepath.Ext(path)
		if strings.ToLower(ext) != s.extension {
			return nil
		}

		id := strings.TrimSuffix(entry.Name(), ext)
		if id == "" {
			return nil
		}

		if previous, ok := paths[id]; ok {
			s.logger.Warn("Duplicate tileset id, keeping the later file",
				zap.String("id", id),
				zap.String("replaced", previous),
				zap.String("path", path),
			)
		}
		paths[id] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	registry := NewRegistry(paths)
	s.logger.Info("Scanned tilesets", zap.String("root", root), zap.Int("count", registry.Len()))

	return registry, nil
}
