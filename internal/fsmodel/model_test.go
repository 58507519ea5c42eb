package fsmodel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"arbor/internal/buffer"
	"arbor/internal/delta"
	"arbor/internal/diff"
	"arbor/internal/element"
	"arbor/internal/errors"
	"arbor/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func newTestModel(t *testing.T, files map[string]string) (*Model, string) {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, files)
	return New(NewOSFileSystem(root), element.NewManager(), WithIgnore([]string{".arbor", "*.tmp"})), root
}

func names(handles []model.Handle) []string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = h.Name()
	}
	return out
}

func TestParseSections(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		want  []string
		first model.TextRange
	}{
		{"empty", "", nil, model.TextRange{}},
		{"single line", "title", []string{"title"}, model.TextRange{Offset: 0, Length: 5}},
		{"paragraphs", "a\nb\n\nc\n", []string{"a", "c"}, model.TextRange{Offset: 0, Length: 3}},
		{"leading blank lines", "\n\n  x\n", []string{"x"}, model.TextRange{Offset: 2, Length: 3}},
		{"duplicates", "x\n\nx\n\nx", []string{"x", "x#2", "x#3"}, model.TextRange{Offset: 0, Length: 1}},
		{"suffix already taken", "a#2\n\na\n\na\n", []string{"a#2", "a", "a#3"}, model.TextRange{Offset: 0, Length: 3}},
		{"suffixed name repeated", "a\n\na\n\na#2", []string{"a", "a#2", "a#2#2"}, model.TextRange{Offset: 0, Length: 1}},
		{"whitespace only separators", "a\n \t\nb", []string{"a", "b"}, model.TextRange{Offset: 0, Length: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := ParseSections(tt.text)
			var got []string
			for _, s := range spans {
				got = append(got, s.Name)
			}
			assert.Equal(t, tt.want, got)
			if len(spans) > 0 {
				assert.Equal(t, tt.first, spans[0].Full)
			}
		})
	}

	t.Run("ranges", func(t *testing.T) {
		spans := ParseSections("head\nbody\n\ntail\n")
		require.Len(t, spans, 2)
		assert.Equal(t, []string{"head", "body"}, spans[0].Lines)
		assert.Equal(t, model.TextRange{Offset: 0, Length: 4}, spans[0].Identifying)
		assert.Equal(t, model.TextRange{Offset: 11, Length: 4}, spans[1].Full)
	})
}

func TestCleanPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{".", "", false},
		{"/a/b/", "a/b", false},
		{"a/./b", "a/b", false},
		{"a/../b", "b", false},
		{"../x", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanPath(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModel_Open(t *testing.T) {
	ctx := context.Background()
	md, _ := newTestModel(t, map[string]string{
		"README.md":      "# Title\n\nIntro text.\n",
		"src/main.go":    "package main\n",
		"scratch.tmp":    "ignored",
		".arbor/db/x":    "ignored",
		"src/util/a.txt": "a",
	})
	m := md.Manager()

	children, err := element.Children(ctx, m, md.Root())
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "src"}, names(children))

	readme := md.Root().File("README.md")
	body, err := element.Open(ctx, m, readme)
	require.NoError(t, err)
	src := body.(*model.SourceBody)
	assert.Equal(t, []string{"# Title", "Intro text."}, names(src.Children()))
	assert.Equal(t, 3, src.Properties["lines"])
	assert.Equal(t, len("# Title\n\nIntro text.\n"), src.Properties["size"])
	assert.True(t, model.SnapshotOf([]byte("# Title\n\nIntro text.\n")).Equal(src.Snapshot))

	t.Run("sections are built with their file", func(t *testing.T) {
		sec := readme.Section("Intro text.")
		sb, err := element.Open(ctx, m, sec)
		require.NoError(t, err)
		assert.Equal(t, []string{"Intro text."}, sb.(*model.SourceBody).Properties["text"])

		_, err = element.Open(ctx, m, readme.Section("nope"))
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("missing file", func(t *testing.T) {
		ok, err := element.Exists(ctx, m, md.Root().File("missing.txt"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("a directory is not a file", func(t *testing.T) {
		ok, err := element.Exists(ctx, m, md.Root().File("src"))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestModel_OpenRepeatedSectionNames(t *testing.T) {
	ctx := context.Background()
	md, _ := newTestModel(t, map[string]string{"notes.txt": "a#2\n\na\n\na\n"})

	body, err := element.Open(ctx, md.Manager(), md.Root().File("notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a#2", "a", "a#3"}, names(body.Children()))
}

func TestModel_Resolve(t *testing.T) {
	ctx := context.Background()
	md, _ := newTestModel(t, map[string]string{
		"src/main.go": "package main\n",
		"x.tmp":       "",
	})

	tests := []struct {
		path     string
		wantKind string
		wantErr  func(error) bool
	}{
		{"", KindDir, nil},
		{"src", KindDir, nil},
		{"/src/main.go", KindFile, nil},
		{"src/missing.go", "", errors.IsNotFound},
		{"src/main.go/deeper", "", errors.IsNotFound},
		{"x.tmp", "", errors.IsNotFound},
		{"../etc", "", errors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			e, err := md.Resolve(ctx, tt.path)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, tt.wantErr(err), err.Error())
				return
			}
			require.NoError(t, err)
			switch tt.wantKind {
			case KindDir:
				assert.IsType(t, &Dir{}, e)
			case KindFile:
				assert.IsType(t, &File{}, e)
			}
		})
	}
}

func TestModel_ChangesOnDisk(t *testing.T) {
	ctx := context.Background()
	md, root := newTestModel(t, map[string]string{
		"notes.txt": "alpha\n\nbeta\n",
		"old.txt":   "bye\n",
	})

	r := diff.NewRecorder()
	require.NoError(t, r.BeginRecording(ctx, md, md.Root()))

	writeFiles(t, root, map[string]string{
		"notes.txt": "alpha\n\ngamma\n",
		"new.txt":   "hi\n",
	})
	require.NoError(t, os.Remove(filepath.Join(root, "old.txt")))
	md.InvalidateListing("new.txt")
	md.InvalidateListing("old.txt")
	md.Invalidate("notes.txt")

	d, err := r.EndRecording(ctx)
	require.NoError(t, err)

	notes := md.Root().File("notes.txt")
	assert.Equal(t, delta.Added, d.Find(md.Root().File("new.txt")).Kind())
	assert.Equal(t, delta.Removed, d.Find(md.Root().File("old.txt")).Kind())
	assert.Equal(t, delta.Removed, d.Find(notes.Section("beta")).Kind())
	assert.Equal(t, delta.Added, d.Find(notes.Section("gamma")).Kind())
	assert.True(t, d.Find(notes).Flags().Has(delta.Children))
	assert.Nil(t, d.Find(notes.Section("alpha")))
}

func TestModel_CompareTwoTrees(t *testing.T) {
	ctx := context.Background()
	before, _ := newTestModel(t, map[string]string{"a.txt": "a\n"})
	after, _ := newTestModel(t, map[string]string{"a.txt": "a\n", "dir/b.txt": "b\n"})

	d0, err := diff.NewDifferencer(ctx, before, before.Root())
	require.NoError(t, err)
	d, err := d0.BuildDeltaOn(ctx, after)
	require.NoError(t, err)

	added := d.AddedChildren()
	require.Len(t, added, 1)
	assert.Equal(t, "dir", added[0].Element().Name())
	assert.Nil(t, d.Find(before.Root().File("a.txt")))
}

func TestModel_WorkingCopy(t *testing.T) {
	ctx := context.Background()
	md, root := newTestModel(t, map[string]string{"doc.txt": "one\n"})
	m := md.Manager()

	f, err := md.File("doc.txt")
	require.NoError(t, err)
	buf := buffer.New("one\n\ntwo\n")
	_, err = element.BecomeWorkingCopy(ctx, m, f, buf, nil, nil)
	require.NoError(t, err)
	defer element.ReleaseWorkingCopy(m, f)
	assert.Equal(t, 1, buf.RefCount())

	children, err := element.Children(ctx, m, f)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, names(children))

	t.Run("disk changes do not affect the working copy", func(t *testing.T) {
		writeFiles(t, root, map[string]string{"doc.txt": "disk\n"})
		md.InvalidateListing("doc.txt")
		children, err := element.Children(ctx, m, f)
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two"}, names(children))
	})

	t.Run("reconcile", func(t *testing.T) {
		buf.Set("one\n\nthree\n")
		d, err := element.Reconcile(ctx, m, f, false)
		require.NoError(t, err)
		assert.Equal(t, delta.Added, d.Find(f.Section("three")).Kind())
		assert.Equal(t, delta.Removed, d.Find(f.Section("two")).Kind())
	})

	t.Run("new file without a disk counterpart", func(t *testing.T) {
		nf, err := md.File("draft.txt")
		require.NoError(t, err)
		_, err = element.BecomeWorkingCopy(ctx, m, nf, buffer.New("draft\n"), nil, nil)
		require.NoError(t, err)
		defer element.ReleaseWorkingCopy(m, nf)

		e, err := md.Resolve(ctx, "draft.txt")
		require.NoError(t, err)
		assert.Equal(t, nf.ID(), e.ID())
		children, err := element.Children(ctx, m, nf)
		require.NoError(t, err)
		assert.Equal(t, []string{"draft"}, names(children))
	})

	t.Run("source element at offset", func(t *testing.T) {
		e, err := element.SourceElementAt(ctx, m, f, 6, buf.Snapshot())
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "three", e.Name())
	})
}

func TestModel_Adopt(t *testing.T) {
	a, _ := newTestModel(t, nil)
	b, _ := newTestModel(t, nil)

	sec := a.Root().Dir("d").File("f.txt").Section("s")
	got, err := b.Adopt(sec)
	require.NoError(t, err)
	assert.Equal(t, sec.ID(), got.ID())
	assert.Same(t, b, got.(*Section).File().model)

	_, err = b.Adopt(nil)
	assert.Error(t, err)
}
