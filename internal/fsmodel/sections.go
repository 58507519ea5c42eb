package fsmodel

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"arbor/internal/model"
)

const maxSectionName = 60

// SectionSpan is one blank-line separated paragraph of a file.
type SectionSpan struct {
	Name        string
	Lines       []string
	Full        model.TextRange
	Identifying model.TextRange
}

// ParseSections splits text into paragraphs. Each is named by its first
// line; repeated names get the lowest free "#n" suffix counting from 2.
func ParseSections(text string) []SectionSpan {
	var (
		spans []SectionSpan
		cur   *SectionSpan
		seen  = make(map[string]int)
		used  = make(map[string]bool)
	)
	flush := func() {
		if cur == nil {
			return
		}
		base, n := cur.Name, seen[cur.Name]+1
		name := base
		if n > 1 {
			name = fmt.Sprintf("%s#%d", base, n)
		}
		for used[name] {
			n++
			name = fmt.Sprintf("%s#%d", base, n)
		}
		seen[base] = n
		used[name] = true
		cur.Name = name
		spans = append(spans, *cur)
		cur = nil
	}

	offset := 0
	for {
		line, rest, found := strings.Cut(text, "\n")
		if strings.TrimSpace(line) == "" {
			flush()
		} else {
			if cur == nil {
				cur = &SectionSpan{
					Name:        sectionName(line),
					Full:        model.TextRange{Offset: offset},
					Identifying: model.TextRange{Offset: offset, Length: len(line)},
				}
			}
			cur.Lines = append(cur.Lines, line)
			cur.Full.Length = offset + len(line) - cur.Full.Offset
		}
		offset += len(line)
		if !found {
			break
		}
		offset++
		text = rest
	}
	flush()
	return spans
}

func sectionName(line string) string {
	name := strings.TrimSpace(line)
	if utf8.RuneCountInString(name) <= maxSectionName {
		return name
	}
	runes := []rune(name)
	return string(runes[:maxSectionName])
}
