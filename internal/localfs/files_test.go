package localfs

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles_ReadAt(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "src/data.bin", []byte("0123456789"), 0o644))
	files := New(fs)

	size, err := files.Size("src/data.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	buf := make([]byte, 4)
	n, err := files.ReadAt("src/data.bin", buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "6789", string(buf))

	_, err = files.ReadAt("src/data.bin", make([]byte, 4), 8)
	assert.Error(t, err)

	_, err = files.Size("missing")
	assert.Error(t, err)
}

func TestFiles_ConcurrentWritesCommit(t *testing.T) {
	fs := memfs.New()
	files := New(fs)

	const parts = 8
	require.NoError(t, files.Create("out/nested/file.bin", parts*4))

	var wg sync.WaitGroup
	for i := parts - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chunk := []byte{byte('a' + i), byte('a' + i), byte('a' + i), byte('a' + i)}
			assert.NoError(t, files.WriteAt("out/nested/file.bin", chunk, int64(i*4)))
		}(i)
	}
	wg.Wait()

	_, err := fs.Stat("out/nested/file.bin")
	assert.Error(t, err, "destination must not exist before commit")

	require.NoError(t, files.Commit("out/nested/file.bin"))

	data, err := util.ReadFile(fs, "out/nested/file.bin")
	require.NoError(t, err)
	assert.Equal(t, "aaaabbbbccccddddeeeeffffgggghhhh", string(data))

	_, err = fs.Stat("out/nested/file.bin" + PartialSuffix)
	assert.Error(t, err)
}

func TestFiles_Discard(t *testing.T) {
	fs := memfs.New()
	files := New(fs)

	require.NoError(t, files.Create("dl.bin", 16))
	require.NoError(t, files.WriteAt("dl.bin", []byte("abcd"), 0))
	require.NoError(t, files.Discard("dl.bin"))

	_, err := fs.Stat("dl.bin" + PartialSuffix)
	assert.Error(t, err)
	_, err = fs.Stat("dl.bin")
	assert.Error(t, err)

	assert.Error(t, files.WriteAt("dl.bin", []byte("x"), 0))
	assert.NoError(t, files.Discard("dl.bin"))
}

func TestFiles_EmptyDownload(t *testing.T) {
	fs := memfs.New()
	files := New(fs)

	require.NoError(t, files.Create("empty.txt", 0))
	require.NoError(t, files.Commit("empty.txt"))

	info, err := fs.Stat("empty.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())
}

func TestFiles_DetectContentType(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "page.html", []byte("<!DOCTYPE html><html><body>x</body></html>"), 0o644))
	require.NoError(t, util.WriteFile(fs, "blob", []byte{0x00, 0x01, 0x02, 0x03}, 0o644))
	files := New(fs)

	assert.Contains(t, files.DetectContentType("page.html"), "text/html")
	assert.Equal(t, DefaultContentType, files.DetectContentType("blob"))
	assert.Contains(t, files.DetectContentType("missing.json"), "application/json")
}

func TestFiles_Walk(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "/tree/b.txt", []byte("b"), 0o644))
	require.NoError(t, util.WriteFile(fs, "/tree/sub/a.txt", []byte("a"), 0o644))
	files := New(fs)

	var seen []string
	err := files.Walk("/tree", func(p string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if !info.IsDir() {
			seen = append(seen, p)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/tree/b.txt", "/tree/sub/a.txt"}, seen)

	info, err := files.Stat("/tree/b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Size())
}

func TestFiles_WalkRelativeRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tree"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tree", "a.txt"), []byte("a"), 0o644))
	t.Chdir(dir)

	var seen []string
	err := NewOS().Walk("tree", func(p string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		if !info.IsDir() {
			seen = append(seen, p)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("tree", "a.txt")}, seen)
}
