// Package modeltest provides in-memory handles and bodies for tests.
package modeltest

import "arbor/internal/model"

// Node is a plain handle.
type Node struct {
	parent model.Handle
	name   string
	id     model.ID
	source bool
}

func Root(name string) *Node {
	return &Node{name: name, id: model.MakeID(nil, "n", name)}
}

func (n *Node) Child(name string) *Node {
	return &Node{parent: n, name: name, id: model.MakeID(n, "n", name)}
}

// SourceChild returns a child reported as a source node.
func (n *Node) SourceChild(name string) *Node {
	c := n.Child(name)
	c.source = true
	return c
}

func (n *Node) ID() model.ID         { return n.id }
func (n *Node) Name() string         { return n.name }
func (n *Node) Parent() model.Handle { return n.parent }
func (n *Node) IsSource() bool       { return n.source }
func (n *Node) String() string       { return string(n.id) }

// Body returns a base body with the given children. It panics on duplicates.
func Body(children ...model.Handle) *model.BaseBody {
	b := model.NewBaseBody()
	if err := b.SetChildren(children); err != nil {
		panic(err)
	}
	return b
}

// Source returns a source body with the given properties and children.
func Source(props model.Properties, children ...model.Handle) *model.SourceBody {
	b := model.NewSourceBody()
	if err := b.SetChildren(children); err != nil {
		panic(err)
	}
	for k, v := range props {
		b.Set(k, v)
	}
	return b
}
