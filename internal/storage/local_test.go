package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeMediaFile(t *testing.T, root, dir, name, content string) {
	t.Helper()
	full := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(full, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(full, name), []byte(content), 0o644))
}

func TestLocalStoreOpenConfinesToMediaDir(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, IndividualMediaDir, "10-photo.jpg", "jpeg bytes")
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.txt"), []byte("nope"), 0o644))

	l := NewLocalStore(root)
	ctx := context.Background()

	rc, err := l.Open(ctx, false, "10-photo.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.Equal(t, "jpeg bytes", string(data))

	// a traversal attempt resolves to the basename inside the media dir
	_, err = l.Open(ctx, false, "../secret.txt")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalStoreWalk(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, IndividualMediaDir, "1-a.jpg", "aa")
	writeMediaFile(t, root, IndividualMediaDir, "2-b.mp4", "bbbb")
	writeMediaFile(t, root, GroupMediaDir, "3-c.gif", "c")
	writeMediaFile(t, root, GroupMediaDir, ".DS_Store", "junk")

	type seen struct {
		fromGroup bool
		size      int64
	}
	got := map[string]seen{}
	err := NewLocalStore(root).Walk(func(fromGroup bool, name string, size int64) error {
		got[name] = seen{fromGroup, size}
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, map[string]seen{
		"1-a.jpg": {false, 2},
		"2-b.mp4": {false, 4},
		"3-c.gif": {true, 1},
	}, got, "hidden files are skipped")
}

func TestLocalStoreWalkToleratesMissingDirs(t *testing.T) {
	root := t.TempDir()
	writeMediaFile(t, root, IndividualMediaDir, "1-a.jpg", "aa")
	// no group media directory at all

	var names []string
	err := NewLocalStore(root).Walk(func(fromGroup bool, name string, size int64) error {
		names = append(names, name)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"1-a.jpg"}, names)
}
