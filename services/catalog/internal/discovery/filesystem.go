package discovery

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"catalogd/services/catalog/internal/model"
)

const fileSystemSource = "File System"

// FileSystemAdapter discovers a locally mounted directory tree. It exists for
// generic file sources (NFS mounts, staging directories) that have no vendor
// API.
type FileSystemAdapter struct {
	logger *log.Logger
}

func NewFileSystemAdapter(logger *log.Logger) *FileSystemAdapter {
	if logger == nil {
		logger = log.Default()
	}
	return &FileSystemAdapter{logger: logger}
}

func (a *FileSystemAdapter) Discover(ctx context.Context, conn model.Connector) (*Result, error) {
	root := conn.ConfigString("root", "root_path", "rootPath")
	if root == "" {
		return nil, fmt.Errorf("%w: connector %s has no root path", ErrConfiguration, conn.ID)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: stat root: %v", ErrRemoteUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: root %s is not a directory", ErrConfiguration, root)
	}

	catalog := filepath.Base(filepath.Clean(root))
	result := &Result{}
	var descriptors []model.AssetDescriptor

	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			a.logger.Printf("WARN connector %s: skipping %s: %v", conn.ID, path, walkErr)
			result.skip(path, walkErr)
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		d := model.AssetDescriptor{
			ID:           "file://" + filepath.ToSlash(filepath.Clean(root)) + "/" + rel,
			Name:         model.BaseName(rel),
			Catalog:      catalog,
			Schema:       model.SchemaOf(rel),
			LastModified: time.Now().UTC(),
			Source:       fileSystemSource,
		}
		if entry.IsDir() {
			d.Type = model.TypeFolderAsset
		} else {
			d.Type = model.Classify(rel)
			if info, err := entry.Info(); err == nil {
				d.SizeBytes = info.Size()
				if !info.ModTime().IsZero() {
					d.LastModified = info.ModTime().UTC()
				}
			}
		}
		descriptors = append(descriptors, d)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: walk %s: %v", ErrRemoteUnavailable, root, err)
	}

	result.add(catalog, descriptors...)
	return result, nil
}
