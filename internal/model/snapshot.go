package model

import "arbor/shared/utils"

// Snapshot marks content as of a point in time.
type Snapshot interface {
	Equal(other Snapshot) bool
}

// ContentSnapshot identifies content by its hash. Two snapshots of identical
// content are equal.
type ContentSnapshot struct {
	Hash string
}

func SnapshotOf(content []byte) ContentSnapshot {
	return ContentSnapshot{Hash: utils.HashContent(content)}
}

func (s ContentSnapshot) Equal(other Snapshot) bool {
	o, ok := other.(ContentSnapshot)
	return ok && o.Hash == s.Hash
}

func (s ContentSnapshot) String() string {
	if len(s.Hash) > 12 {
		return s.Hash[:12]
	}
	return s.Hash
}

// Buffer is a reference-counted content source a working copy edits.
type Buffer interface {
	Contents() string
	Snapshot() Snapshot
	AddRef()
	Release()
}
