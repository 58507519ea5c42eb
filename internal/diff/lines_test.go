package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Diff(t *testing.T) {
	tests := []struct {
		name      string
		old       string
		new       string
		context   int
		hunks     int
		additions int
		deletions int
	}{
		{"identical", "a\nb\n", "a\nb\n", 3, 0, 0, 0},
		{"empty to content", "", "a\nb\n", 3, 1, 2, 0},
		{"content to empty", "a\nb\n", "", 3, 1, 0, 2},
		{"single change", "a\nb\nc\n", "a\nB\nc\n", 1, 1, 1, 1},
		{"distant changes split", "1\n2\n3\n4\n5\n6\n7\n8\n", "x\n2\n3\n4\n5\n6\n7\ny\n", 1, 2, 2, 2},
		{"close changes merge", "1\n2\n3\n4\n", "x\n2\n3\ny\n", 1, 1, 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewEngine(tt.context).Diff([]byte(tt.old), []byte(tt.new))
			assert.Len(t, d.Hunks, tt.hunks)
			assert.Equal(t, tt.additions, d.Stats.Additions)
			assert.Equal(t, tt.deletions, d.Stats.Deletions)
			assert.Equal(t, tt.hunks == 0, d.IsEmpty())
		})
	}
}

func TestEngine_HunkLayout(t *testing.T) {
	d := NewEngine(1).Diff([]byte("a\nb\nc\n"), []byte("a\nB\nc\nd\n"))
	require.Len(t, d.Hunks, 1)

	h := d.Hunks[0]
	assert.Equal(t, 1, h.OldStart)
	assert.Equal(t, 3, h.OldLines)
	assert.Equal(t, 1, h.NewStart)
	assert.Equal(t, 4, h.NewLines)

	want := "@@ -1,3 +1,4 @@\n" +
		"  a\n" +
		"- b\n" +
		"+ B\n" +
		"  c\n" +
		"+ d\n"
	assert.Equal(t, want, d.Format())
}

func TestEngine_LineNumbers(t *testing.T) {
	d := NewEngine(0).Diff([]byte("a\nb\nc\n"), []byte("a\nc\n"))
	require.Len(t, d.Hunks, 1)
	h := d.Hunks[0]
	require.Len(t, h.Lines, 1)
	assert.Equal(t, Deletion, h.Lines[0].Type)
	assert.Equal(t, 2, h.Lines[0].OldNum)
	assert.Equal(t, 2, h.OldStart)
	assert.Equal(t, 1, h.OldLines)
	assert.Equal(t, 1, h.NewStart)
	assert.Equal(t, 0, h.NewLines)
}
