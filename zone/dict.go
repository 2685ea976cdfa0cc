// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package zone

import (
	"errors"

	"github.com/user00265/dnscore/codec"
	"github.com/user00265/dnscore/nametree"
)

// Dict is the reference backend: storage is {IN: {type: NameTree}},
// keyed on the zone's context, exactly as described for the dictionary
// backend. It is the backend every zone-apex NS/SOA answer and every
// statically configured A/AAAA/CNAME/MX/TXT record goes through.
type Dict struct {
	context codec.Name
	trees   map[codec.Class]map[codec.Type]*nametree.Tree[RecordList]
}

// NewDict constructs an empty dictionary backend anchored at context.
func NewDict(context codec.Name) *Dict {
	return &Dict{
		context: context,
		trees:   make(map[codec.Class]map[codec.Type]*nametree.Tree[RecordList]),
	}
}

// Insert adds rr to the dictionary under its own name/type/class,
// appending to any records already present at that exact name (e.g. a
// second A record for round-robin) rather than treating it as a
// conflicting duplicate insert. Records are placed relative to the
// dictionary's context, the same way Query finds them; a name that is not
// at or under the context fails with codec.ErrNotASubdomain.
func (d *Dict) Insert(rr codec.Record) error {
	if rr.Class != codec.ClassIN {
		return ErrUnsupportedClass
	}

	labels, err := rr.Name.IterContext(d.context)
	if err != nil {
		return err
	}
	tree := d.treeFor(rr.Class, rr.Type)
	node := tree.Root()
	for _, lbl := range labels {
		child, err := node.AddChild(string(lbl), nil)
		if err != nil {
			return err
		}
		node = child
	}

	existing, _ := node.Value()
	node.SetValue(append(existing, rr))
	return nil
}

func (d *Dict) treeFor(class codec.Class, typ codec.Type) *nametree.Tree[RecordList] {
	byType, ok := d.trees[class]
	if !ok {
		byType = make(map[codec.Type]*nametree.Tree[RecordList])
		d.trees[class] = byType
	}
	tree, ok := byType[typ]
	if !ok {
		tree = nametree.NewNamespace[RecordList](d.context)
		byType[typ] = tree
	}
	return tree
}

// Query selects the tree by (class, type), walks it with FindWithContext
// against the zone's origin, and returns the value at the matched node.
func (d *Dict) Query(name codec.Name, typ codec.Type, class codec.Class) (RecordList, error) {
	byType, ok := d.trees[class]
	if !ok {
		return nil, ErrUnsupportedClass
	}
	tree, ok := byType[typ]
	if !ok {
		return nil, ErrUnsupportedType
	}

	node, err := tree.FindWithContext(name)
	if err != nil {
		if errors.Is(err, codec.ErrNotASubdomain) {
			// Not authoritative for this name: "no answer here", not a
			// query-level error.
			return nil, nil
		}
		return nil, err
	}
	records, _ := node.Value()
	return records, nil
}

// Close tears down every per-type tree. Idempotent, since nametree.Tree
// destruction is.
func (d *Dict) Close() error {
	for _, byType := range d.trees {
		for _, tree := range byType {
			tree.Destroy()
		}
	}
	return nil
}
