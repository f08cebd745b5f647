package staging

import (
	"io/fs"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreReadWrite(t *testing.T) {
	t.Run("write then read", func(t *testing.T) {
		store := New()
		require.NoError(t, store.Write("data/input.txt", []byte("42")))

		data, err := store.Read("data/input.txt")
		require.NoError(t, err)
		assert.Equal(t, []byte("42"), data)
		assert.True(t, store.Exists("data/input.txt"))
		assert.False(t, store.Exists("data"))
	})

	t.Run("last writer wins", func(t *testing.T) {
		store := New()
		require.NoError(t, store.Write("a.txt", []byte("first")))
		require.NoError(t, store.Write("./a.txt", []byte("second")))

		data, err := store.Read("a.txt")
		require.NoError(t, err)
		assert.Equal(t, "second", string(data))
		assert.Equal(t, 1, store.Len())
	})

	t.Run("read missing", func(t *testing.T) {
		store := New()
		_, err := store.Read("missing.txt")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("remove", func(t *testing.T) {
		store := New()
		require.NoError(t, store.Write("a.txt", []byte("x")))
		require.NoError(t, store.Remove("a.txt"))
		assert.False(t, store.Exists("a.txt"))
		assert.ErrorIs(t, store.Remove("a.txt"), ErrNotFound)
	})

	t.Run("paths are sorted", func(t *testing.T) {
		store := New()
		for _, p := range []string{"z.txt", "b/c.txt", "a.txt"} {
			require.NoError(t, store.Write(p, nil))
		}
		assert.Equal(t, []string{"a.txt", "b/c.txt", "z.txt"}, store.Paths())
	})
}

func TestStoreInvalidPaths(t *testing.T) {
	store := New()
	for _, p := range []string{"", "/etc/passwd", "..", "../escape.txt", "a/../../b", ".", "bad\x00name"} {
		t.Run(p, func(t *testing.T) {
			assert.ErrorIs(t, store.Write(p, []byte("x")), ErrInvalidPath)
			_, err := store.Read(p)
			assert.ErrorIs(t, err, ErrInvalidPath)
			assert.False(t, store.Exists(p))
		})
	}

	t.Run("file and directory collide", func(t *testing.T) {
		store := New()
		require.NoError(t, store.Write("dir/file.txt", []byte("x")))
		assert.ErrorIs(t, store.Write("dir", []byte("y")), ErrInvalidPath)
		assert.ErrorIs(t, store.Write("dir/file.txt/nested", []byte("y")), ErrInvalidPath)
	})
}

func TestClean(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a.txt", "a.txt"},
		{"./a.txt", "a.txt"},
		{"a//b/./c.txt", "a/b/c.txt"},
		{"a\\b.txt", "a/b.txt"},
		{"a/../b.txt", "b.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Clean(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStoreSnapshot(t *testing.T) {
	store := New()
	require.NoError(t, store.Write("data/input.txt", []byte("before")))
	require.NoError(t, store.Write("top.txt", []byte("top")))

	snap, err := store.Snapshot()
	require.NoError(t, err)

	require.NoError(t, store.Write("data/input.txt", []byte("after")))
	require.NoError(t, store.Write("late.txt", []byte("late")))

	data, err := fs.ReadFile(snap, "data/input.txt")
	require.NoError(t, err)
	assert.Equal(t, "before", string(data))

	_, err = fs.ReadFile(snap, "late.txt")
	assert.Error(t, err)

	entries, err := fs.ReadDir(snap, ".")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"data", "top.txt"}, names)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := New()
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := "shared.txt"
			_ = store.Write(p, []byte(strings.Repeat("x", i)))
			_, _ = store.Read(p)
			_, _ = store.Snapshot()
		}(i)
	}
	wg.Wait()
	assert.True(t, store.Exists("shared.txt"))
}

func TestLoadManifest(t *testing.T) {
	t.Run("populates store", func(t *testing.T) {
		store := New()
		doc := `
files:
  data/input.txt: "42"
  README: |
    hello
`
		require.NoError(t, store.LoadManifest(strings.NewReader(doc)))
		assert.Equal(t, []string{"README", "data/input.txt"}, store.Paths())

		data, err := store.Read("README")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(data))
	})

	t.Run("empty document", func(t *testing.T) {
		store := New()
		require.NoError(t, store.LoadManifest(strings.NewReader("")))
		assert.Equal(t, 0, store.Len())
	})

	t.Run("invalid entries are reported", func(t *testing.T) {
		store := New()
		doc := "files:\n  /abs.txt: x\n  ok.txt: y\n"
		err := store.LoadManifest(strings.NewReader(doc))
		assert.ErrorIs(t, err, ErrInvalidPath)
		assert.True(t, store.Exists("ok.txt"))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		store := New()
		assert.Error(t, store.LoadManifest(strings.NewReader("files: [unterminated")))
	})

	t.Run("missing file", func(t *testing.T) {
		store := New()
		assert.Error(t, store.LoadManifestFile(t.TempDir()+"/nope.yaml"))
	})
}
