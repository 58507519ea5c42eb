package diff

import (
	"bytes"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Patch renders d as a unified diff between oldName and newName.
func (d *LineDiff) Patch(oldName, newName string) ([]byte, error) {
	fd := &godiff.FileDiff{OrigName: oldName, NewName: newName}
	for _, h := range d.Hunks {
		var body bytes.Buffer
		for _, l := range h.Lines {
			switch l.Type {
			case Addition:
				body.WriteByte('+')
			case Deletion:
				body.WriteByte('-')
			default:
				body.WriteByte(' ')
			}
			body.WriteString(l.Content)
			body.WriteByte('\n')
		}
		fd.Hunks = append(fd.Hunks, &godiff.Hunk{
			OrigStartLine: int32(h.OldStart),
			OrigLines:     int32(h.OldLines),
			NewStartLine:  int32(h.NewStart),
			NewLines:      int32(h.NewLines),
			Body:          body.Bytes(),
		})
	}
	return godiff.PrintFileDiff(fd)
}
