package fsmodel

import (
	"context"
	"fmt"
	"path"
	"strings"

	"arbor/internal/element"
	"arbor/internal/errors"
	"arbor/internal/model"
)

const (
	KindDir     = "dir"
	KindFile    = "file"
	KindSection = "section"
)

// Dir is a directory of the model. The model root is the Dir with no
// parent.
type Dir struct {
	model  *Model
	id     model.ID
	name   string
	path   string
	parent *Dir
}

func newDir(md *Model, parent *Dir, name string) *Dir {
	d := &Dir{model: md, name: name, parent: parent}
	if parent == nil {
		d.id = model.MakeID(nil, KindDir, name)
	} else {
		d.id = model.MakeID(parent, KindDir, name)
		d.path = path.Join(parent.path, name)
	}
	return d
}

func (d *Dir) ID() model.ID   { return d.id }
func (d *Dir) Name() string   { return d.name }
func (d *Dir) Path() string   { return d.path }
func (d *Dir) String() string { return displayPath(d.path) }

func (d *Dir) Parent() model.Handle {
	if d.parent == nil {
		return nil
	}
	return d.parent
}

// Dir returns the handle of the subdirectory name.
func (d *Dir) Dir(name string) *Dir { return newDir(d.model, d, name) }

// File returns the handle of the file name in d.
func (d *Dir) File(name string) *File { return newFile(d.model, d, name) }

func (d *Dir) SelfOpening() bool { return true }

func (d *Dir) ValidateExistence(ctx context.Context) error {
	e, err := d.model.fs.Stat(ctx, d.path)
	if err != nil {
		return err
	}
	if !e.Dir {
		return errors.NotFound(fmt.Sprintf("%s is not a directory", d))
	}
	return nil
}

func (d *Dir) BuildStructure(ctx context.Context, st *element.Staging) error {
	entries, err := d.model.fs.ReadDir(ctx, d.path)
	if err != nil {
		return err
	}
	body := model.NewBaseBody()
	for _, e := range entries {
		if d.model.ignored(e.Name) {
			continue
		}
		var child model.Handle
		if e.Dir {
			child = d.Dir(e.Name)
		} else {
			child = d.File(e.Name)
		}
		if err := body.AddChild(child); err != nil {
			return err
		}
	}
	st.Put(d, body)
	return nil
}

// File is a text file. Its body holds the file properties and one Section
// child per paragraph.
type File struct {
	model  *Model
	id     model.ID
	name   string
	path   string
	parent *Dir
}

func newFile(md *Model, parent *Dir, name string) *File {
	return &File{
		model:  md,
		id:     model.MakeID(parent, KindFile, name),
		name:   name,
		path:   path.Join(parent.path, name),
		parent: parent,
	}
}

func (f *File) ID() model.ID         { return f.id }
func (f *File) Name() string         { return f.name }
func (f *File) Path() string         { return f.path }
func (f *File) String() string       { return f.path }
func (f *File) Parent() model.Handle { return f.parent }
func (f *File) IsSource() bool       { return true }
func (f *File) SelfOpening() bool    { return true }

// Section returns the handle of the section name of f.
func (f *File) Section(name string) *Section {
	return &Section{file: f, id: model.MakeID(f, KindSection, name), name: name}
}

// ValidateExistence accepts working copies of files that are not on disk.
func (f *File) ValidateExistence(ctx context.Context) error {
	if f.model.manager.IsWorkingCopy(f) {
		return nil
	}
	e, err := f.model.fs.Stat(ctx, f.path)
	if err != nil {
		return err
	}
	if e.Dir {
		return errors.NotFound(fmt.Sprintf("%s is not a file", f))
	}
	return nil
}

// Contents returns the text f is built from: the contents being reconciled,
// the working copy buffer, or the file on disk, in that order.
func (f *File) Contents(ctx context.Context) (string, model.Snapshot, error) {
	if text, snap, ok := element.ReconcileContents(ctx, f); ok {
		return text, snap, nil
	}
	if info := f.model.manager.PeekWorkingCopy(f); info != nil {
		return info.Buffer.Contents(), info.Buffer.Snapshot(), nil
	}
	data, err := f.model.fs.ReadFile(ctx, f.path)
	if err != nil {
		return "", nil, err
	}
	return string(data), model.SnapshotOf(data), nil
}

func (f *File) BuildStructure(ctx context.Context, st *element.Staging) error {
	text, snap, err := f.Contents(ctx)
	if err != nil {
		return err
	}

	var mode uint32
	if e, err := f.model.fs.Stat(ctx, f.path); err == nil {
		mode = uint32(e.Mode)
	} else if !errors.IsNotFound(err) {
		return err
	}

	body := model.NewSourceBody()
	body.Snapshot = snap
	body.FullRange = model.TextRange{Offset: 0, Length: len(text)}
	body.IdentifyingRange = model.TextRange{Offset: 0, Length: 0}
	body.Set("mode", mode)
	body.Set("size", len(text))
	body.Set("lines", countLines(text))

	for _, span := range ParseSections(text) {
		sec := f.Section(span.Name)
		if err := body.AddChild(sec); err != nil {
			return err
		}
		sb := model.NewSourceBody()
		sb.Snapshot = snap
		sb.FullRange = span.Full
		sb.IdentifyingRange = span.Identifying
		sb.Set("text", span.Lines)
		st.Put(sec, sb)
	}
	st.Put(f, body)
	return nil
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// Section is a paragraph of a file. Sections are built by their file.
type Section struct {
	file *File
	id   model.ID
	name string
}

func (s *Section) ID() model.ID         { return s.id }
func (s *Section) Name() string         { return s.name }
func (s *Section) Parent() model.Handle { return s.file }
func (s *Section) File() *File          { return s.file }
func (s *Section) String() string       { return s.file.path + "#" + s.name }
func (s *Section) IsSource() bool       { return true }
func (s *Section) SelfOpening() bool    { return false }

func (s *Section) ValidateExistence(context.Context) error { return nil }

func (s *Section) BuildStructure(context.Context, *element.Staging) error {
	return errors.Invariant(fmt.Sprintf("section %s is built by its file", s))
}

var (
	_ element.Element = (*Dir)(nil)
	_ element.Element = (*File)(nil)
	_ element.Element = (*Section)(nil)
)
