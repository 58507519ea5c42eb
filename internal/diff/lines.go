package diff

import (
	"bytes"
	"fmt"
)

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// Line is a single line in a hunk. OldNum and NewNum are 1-based and zero
// when the line does not exist on that side.
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// Hunk is a continuous section of changes with surrounding context.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

type LineStats struct {
	Additions int
	Deletions int
}

// LineDiff is the line-level difference between two contents.
type LineDiff struct {
	Hunks []Hunk
	Stats LineStats
}

func (d *LineDiff) IsEmpty() bool {
	return len(d.Hunks) == 0
}

// Engine computes line diffs from the longest common subsequence.
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{contextLines: contextLines}
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) *LineDiff {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	ops := e.script(oldLines, newLines)
	result := &LineDiff{Hunks: e.group(ops)}
	for _, op := range ops {
		switch op.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	return result
}

func splitLines(content []byte) [][]byte {
	content = bytes.TrimSuffix(content, []byte{'\n'})
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(content, []byte{'\n'})
}

// script walks the suffix LCS table front to back, preferring deletions
// before additions at each divergence.
func (e *Engine) script(oldLines, newLines [][]byte) []Line {
	n, m := len(oldLines), len(newLines)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	ops := make([]Line, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case bytes.Equal(oldLines[i], newLines[j]):
			ops = append(ops, Line{Type: Context, Content: string(oldLines[i]), OldNum: i + 1, NewNum: j + 1})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: i + 1})
			i++
		default:
			ops = append(ops, Line{Type: Addition, Content: string(newLines[j]), NewNum: j + 1})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: i + 1})
	}
	for ; j < m; j++ {
		ops = append(ops, Line{Type: Addition, Content: string(newLines[j]), NewNum: j + 1})
	}
	return ops
}

// group splits the edit script into hunks. Changes separated by at most
// twice the context size share a hunk.
func (e *Engine) group(ops []Line) []Hunk {
	var hunks []Hunk
	ctx := e.contextLines
	for i := 0; i < len(ops); {
		if ops[i].Type == Context {
			i++
			continue
		}
		start := max(0, i-ctx)
		end := i
		for j := i; j < len(ops); {
			if ops[j].Type != Context {
				j++
				end = j
				continue
			}
			k := j
			for k < len(ops) && ops[k].Type == Context {
				k++
			}
			if k == len(ops) || k-j > 2*ctx {
				break
			}
			j = k
		}
		stop := min(len(ops), end+ctx)
		hunks = append(hunks, makeHunk(ops, start, stop))
		i = stop
	}
	return hunks
}

func makeHunk(ops []Line, start, stop int) Hunk {
	// lines consumed on each side before the hunk
	oldBefore, newBefore := 0, 0
	for _, op := range ops[:start] {
		if op.Type != Addition {
			oldBefore++
		}
		if op.Type != Deletion {
			newBefore++
		}
	}

	h := Hunk{Lines: append([]Line(nil), ops[start:stop]...)}
	for _, op := range h.Lines {
		if op.Type != Addition {
			h.OldLines++
		}
		if op.Type != Deletion {
			h.NewLines++
		}
	}
	h.OldStart = oldBefore
	if h.OldLines > 0 {
		h.OldStart++
	}
	h.NewStart = newBefore
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}

// Format returns a string representation of the diff
func (d *LineDiff) Format() string {
	var buf bytes.Buffer
	for _, hunk := range d.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+ ")
			case Deletion:
				buf.WriteString("- ")
			case Context:
				buf.WriteString("  ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}
	return buf.String()
}
