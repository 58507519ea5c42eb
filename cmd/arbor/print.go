package main

import (
	"fmt"
	"io"
	"strings"

	"arbor/shared/types"
	"arbor/shared/utils"

	"github.com/fatih/color"
)

var (
	added   = color.New(color.FgGreen)
	removed = color.New(color.FgRed)
	changed = color.New(color.FgYellow)
	header  = color.New(color.FgCyan)
	faint   = color.New(color.Faint)
)

func printTree(w io.Writer, n *types.Node, indent string) {
	label := n.Name
	switch n.Kind {
	case "dir":
		label = header.Sprint(n.Name + "/")
	case "section":
		if n.Range != nil {
			label += faint.Sprintf(" [%d+%d]", n.Range.Offset, n.Range.Length)
		}
	}
	if n.Truncated {
		label += faint.Sprint(" ...")
	}
	fmt.Fprintln(w, indent+label)
	for _, c := range n.Children {
		printTree(w, c, indent+"  ")
	}
}

func printStatus(w io.Writer, st *types.Status) {
	fmt.Fprintf(w, "Since checkpoint %s (%s):\n", utils.ShortHash(st.Checkpoint, 8), st.CreatedAt.Format("2006-01-02 15:04:05"))
	if len(st.Changes) == 0 {
		fmt.Fprintln(w, "  no changes")
		return
	}
	for _, c := range st.Changes {
		p := c.Path
		if c.Dir {
			p += "/"
		}
		switch c.Kind {
		case "added":
			added.Fprintf(w, "  added:    %s\n", p)
		case "removed":
			removed.Fprintf(w, "  removed:  %s\n", p)
		default:
			changed.Fprintf(w, "  modified: %s", p)
			if len(c.Flags) > 0 {
				faint.Fprintf(w, " (%s)", strings.ToLower(strings.Join(c.Flags, ", ")))
			}
			fmt.Fprintln(w)
		}
	}
}

func printFileDiff(w io.Writer, d types.FileDiff) {
	fmt.Fprintf(w, "\ndiff --arbor a/%s b/%s\n", d.Path, d.Path)
	for _, h := range d.Hunks {
		header.Fprintf(w, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, line := range h.Lines {
			switch {
			case strings.HasPrefix(line, "+"):
				added.Fprintln(w, line)
			case strings.HasPrefix(line, "-"):
				removed.Fprintln(w, line)
			default:
				fmt.Fprintln(w, line)
			}
		}
	}
}

func printEvent(w io.Writer, ev types.Event) {
	header.Fprintf(w, "%s %s\n", ev.Time.Format("15:04:05"), ev.Type)
	if ev.Delta != nil {
		printDelta(w, ev.Delta, "  ")
	}
}

func printDelta(w io.Writer, d *types.Delta, indent string) {
	mark := map[string]string{"added": "+", "removed": "-", "changed": "*"}[d.Kind]
	line := fmt.Sprintf("%s%s %s", indent, mark, d.Name)
	if len(d.Flags) > 0 {
		line += " {" + strings.Join(d.Flags, " | ") + "}"
	}
	switch d.Kind {
	case "added":
		added.Fprintln(w, line)
	case "removed":
		removed.Fprintln(w, line)
	default:
		fmt.Fprintln(w, line)
	}
	for _, c := range d.Children {
		printDelta(w, c, indent+"  ")
	}
}
