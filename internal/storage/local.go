package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore reads attachments straight out of an extracted archive
// directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (l *LocalStore) Open(ctx context.Context, fromGroup bool, name string) (io.ReadCloser, error) {
	dir := IndividualMediaDir
	if fromGroup {
		dir = GroupMediaDir
	}
	// names come from client requests; keep them inside the media dir
	name = filepath.Base(name)
	f, err := os.Open(filepath.Join(l.root, dir, name))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Walk visits every attachment in both media directories, for mirroring
// into a bucket.
func (l *LocalStore) Walk(fn func(fromGroup bool, name string, size int64) error) error {
	for _, dir := range []string{IndividualMediaDir, GroupMediaDir} {
		fromGroup := dir == GroupMediaDir
		root := filepath.Join(l.root, dir)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == root {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			return fn(fromGroup, d.Name(), info.Size())
		})
		if err != nil && err != filepath.SkipDir {
			return err
		}
	}
	return nil
}
