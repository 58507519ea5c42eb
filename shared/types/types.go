// Package types holds the JSON shapes exchanged by the server, the client
// and the CLI.
package types

import (
	"time"

	"arbor/internal/delta"
	"arbor/internal/diff"
	"arbor/internal/model"
)

// Node is one element of the model tree with its body.
type Node struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Kind       string           `json:"kind"`
	Path       string           `json:"path"`
	Range      *model.TextRange `json:"range,omitempty"`
	Properties map[string]any   `json:"properties,omitempty"`
	Children   []*Node          `json:"children,omitempty"`
	// Truncated is set when children exist beyond the requested depth.
	Truncated bool `json:"truncated,omitempty"`
}

type Delta struct {
	Element   string   `json:"element"`
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	Flags     []string `json:"flags,omitempty"`
	MovedFrom string   `json:"moved_from,omitempty"`
	MovedTo   string   `json:"moved_to,omitempty"`
	Children  []*Delta `json:"children,omitempty"`
}

// FromDelta converts a delta tree. A nil delta converts to nil.
func FromDelta(d *delta.Delta) *Delta {
	if d == nil {
		return nil
	}
	out := &Delta{
		Element: string(d.Element().ID()),
		Name:    d.Element().Name(),
		Kind:    d.Kind().String(),
		Flags:   d.Flags().Names(),
	}
	if h := d.MovedFrom(); h != nil {
		out.MovedFrom = string(h.ID())
	}
	if h := d.MovedTo(); h != nil {
		out.MovedTo = string(h.ID())
	}
	for _, c := range d.AffectedChildren() {
		out.Children = append(out.Children, FromDelta(c))
	}
	return out
}

type Event struct {
	Type  string    `json:"type"`
	Time  time.Time `json:"time"`
	Delta *Delta    `json:"delta"`
}

func FromEvent(ev delta.Event) Event {
	return Event{Type: ev.Type.String(), Time: ev.Time, Delta: FromDelta(ev.Delta)}
}

// Change is a file or directory level entry of a status report.
type Change struct {
	Path  string   `json:"path"`
	Kind  string   `json:"kind"`
	Dir   bool     `json:"dir,omitempty"`
	Flags []string `json:"flags,omitempty"`
}

type Status struct {
	Checkpoint string    `json:"checkpoint"`
	CreatedAt  time.Time `json:"created_at"`
	Changes    []Change  `json:"changes"`
	Delta      *Delta    `json:"delta,omitempty"`
}

// DiffHunk is a section of changed lines.
type DiffHunk struct {
	OldStart int      `json:"old_start"`
	OldLines int      `json:"old_lines"`
	NewStart int      `json:"new_start"`
	NewLines int      `json:"new_lines"`
	Lines    []string `json:"lines"`
}

type FileDiff struct {
	Path      string     `json:"path"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Hunks     []DiffHunk `json:"hunks,omitempty"`
}

var linePrefix = map[diff.LineType]string{
	diff.Context:  " ",
	diff.Addition: "+",
	diff.Deletion: "-",
}

func FromLineDiff(path string, d *diff.LineDiff) FileDiff {
	out := FileDiff{Path: path, Additions: d.Stats.Additions, Deletions: d.Stats.Deletions}
	for _, h := range d.Hunks {
		dh := DiffHunk{OldStart: h.OldStart, OldLines: h.OldLines, NewStart: h.NewStart, NewLines: h.NewLines}
		for _, l := range h.Lines {
			dh.Lines = append(dh.Lines, linePrefix[l.Type]+l.Content)
		}
		out.Hunks = append(out.Hunks, dh)
	}
	return out
}

type WorkingCopyRequest struct {
	Path string `json:"path"`
	// Contents replaces the buffer; when nil the file is read from disk.
	Contents *string `json:"contents,omitempty"`
}

type WorkingCopy struct {
	Path     string `json:"path"`
	RefCount int    `json:"ref_count"`
	Snapshot string `json:"snapshot"`
	Dirty    bool   `json:"dirty"`
}

type ReconcileResult struct {
	Path  string `json:"path"`
	Delta *Delta `json:"delta,omitempty"`
}

type CacheStats struct {
	Name         string  `json:"name"`
	Len          int     `json:"len"`
	SpaceLimit   int     `json:"space_limit"`
	CurrentSpace int     `json:"current_space"`
	Overflow     int     `json:"overflow"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	Evictions    int     `json:"evictions"`
	HitRate      float64 `json:"hit_rate"`
	WorkingCopy  int     `json:"working_copies"`
}

type CheckpointRequest struct {
	Message string `json:"message"`
}

// CheckpointSummary describes a checkpoint without its manifest.
type CheckpointSummary struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Files     int       `json:"files"`
	Dirs      int       `json:"dirs"`
}
