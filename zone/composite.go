// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package zone

import (
	"errors"

	"github.com/user00265/dnscore/codec"
)

// Composite layers an apex Dict (carrying NS/SOA, and anything else
// statically configured at the zone's origin) in front of a secondary
// data Backend. A query is answered by the apex first; it falls through
// to data when the apex has no tree for that (class, type) at all, or
// when the apex tree yields no records for the name. This is the same
// try-in-turn dispatch the teacher's CombinedDataset uses across its
// member datasets, adapted to two fixed layers instead of an ordered
// list.
type Composite struct {
	apex *Dict
	data Backend // nil when the zone carries no secondary data backend
}

// NewComposite builds a Composite over apex and an optional data
// backend. data may be nil for a zone that is pure dictionary data.
func NewComposite(apex *Dict, data Backend) *Composite {
	return &Composite{apex: apex, data: data}
}

func (c *Composite) Query(name codec.Name, typ codec.Type, class codec.Class) (RecordList, error) {
	records, err := c.apex.Query(name, typ, class)
	if err != nil {
		if !errors.Is(err, ErrUnsupportedType) && !errors.Is(err, ErrUnsupportedClass) {
			return nil, err
		}
	} else if len(records) > 0 {
		return records, nil
	}

	if c.data == nil {
		return nil, nil
	}
	return c.data.Query(name, typ, class)
}

func (c *Composite) Close() error {
	if err := c.apex.Close(); err != nil {
		return err
	}
	if c.data == nil {
		return nil
	}
	return c.data.Close()
}
