// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

// Package zone implements the dispatch layer that sits between the
// transport and a zone's data: a small backend capability set, and the
// dictionary reference backend built on nametree.Tree.
package zone

import (
	"errors"

	"github.com/user00265/dnscore/codec"
)

// ErrUnsupportedClass is returned by a Backend when asked to resolve a
// class it has no tree for. The transport maps this to SERVFAIL.
var ErrUnsupportedClass = errors.New("zone: unsupported class")

// ErrUnsupportedType is returned by a Backend when asked to resolve a
// record type it has no tree for. The transport maps this to SERVFAIL.
var ErrUnsupportedType = errors.New("zone: unsupported type")

// RecordList is the value stored at a name in a dictionary tree: every
// record of one type at one name (e.g. multiple A records for
// round-robin).
type RecordList []codec.Record

// Backend is the polymorphic storage a Zone dispatches queries to. A nil,
// nil return means "no answer here" — either nothing is stored at this
// exact name, or the queried name isn't under the backend's authority;
// either way the transport's caller decides NXDOMAIN vs silently
// deferring to another zone. A non-nil error means the query itself
// can't be served (unsupported class/type) and becomes SERVFAIL.
type Backend interface {
	Query(name codec.Name, typ codec.Type, class codec.Class) (RecordList, error)
	Close() error
}

// Zone is an opaque handle on a backend, carrying the origin name the
// backend's data is anchored at.
type Zone struct {
	context codec.Name
	backend Backend
}

// New constructs a Zone over backend, anchored at context.
func New(context codec.Name, backend Backend) *Zone {
	return &Zone{context: context, backend: backend}
}

// Context returns the zone's origin name.
func (z *Zone) Context() codec.Name { return z.context }

// Query resolves name/typ/class against the zone's backend.
func (z *Zone) Query(name codec.Name, typ codec.Type, class codec.Class) (RecordList, error) {
	return z.backend.Query(name, typ, class)
}

// Close releases the zone's backend. Safe to call once per Zone; the
// backend is responsible for making repeated calls harmless if its
// storage (e.g. a nametree.Tree) is itself idempotent to destroy.
func (z *Zone) Close() error {
	return z.backend.Close()
}
