package delta

import "strings"

// Kind classifies a delta.
type Kind int

const (
	None Kind = iota
	Added
	Removed
	Changed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Changed:
		return "changed"
	default:
		return "none"
	}
}

func (k Kind) marker() string {
	switch k {
	case Added:
		return "+"
	case Removed:
		return "-"
	case Changed:
		return "*"
	default:
		return "?"
	}
}

// Flags describe what changed about an element.
type Flags uint64

const (
	// Children is set when child deltas are present.
	Children Flags = 1 << iota
	// Content is set when the element's own content changed.
	Content
	// MovedFrom is set on an added element that was moved from MovedFrom().
	MovedFrom
	// MovedTo is set on a removed element that was moved to MovedTo().
	MovedTo
	// Reorder is set when the element changed position among its siblings.
	Reorder
	// FineGrained marks deltas computed from structure rather than reported
	// by an underlying resource.
	FineGrained
	Open
	Description
	WorkingCopy
	UnderlyingResource
	Markers
	Sync
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{Children, "CHILDREN"},
	{Content, "CONTENT"},
	{MovedFrom, "MOVED_FROM"},
	{MovedTo, "MOVED_TO"},
	{Reorder, "REORDERED"},
	{FineGrained, "FINE GRAINED"},
	{Open, "OPEN"},
	{Description, "DESCRIPTION"},
	{WorkingCopy, "WORKING COPY"},
	{UnderlyingResource, "UNDERLYING_RESOURCE"},
	{Markers, "MARKERS"},
	{Sync, "SYNC"},
}

func (f Flags) Has(flag Flags) bool {
	return f&flag == flag
}

// Names returns the names of the set flags in declaration order.
func (f Flags) Names() []string {
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Flags) String() string {
	return strings.Join(f.Names(), " | ")
}
