// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package codec

import (
	"fmt"
	"net"
)

// Record is a decoded resource record: name, class, type, TTL, and a
// type-specific RDATA payload.
type Record struct {
	Name  Name
	Type  Type
	Class Class
	TTL   uint32
	Data  RData
}

// RData is the RDATA payload of a Record. The set of implementations is
// closed to the package: A, AAAA, MX, a shared name-only variant for
// CNAME/NS/PTR, SOA, TXT, and Unknown (the catch-all that preserves
// arbitrary RDATA bytes for round-trip).
type RData interface {
	encode(w *Writer) error
	String() string
}

// RDataA is the 4-byte IPv4 address payload of an A record.
type RDataA [4]byte

func (d RDataA) encode(w *Writer) error { return w.Write(d[:]) }
func (d RDataA) String() string         { return net.IP(d[:]).String() }

// IP returns the payload as a net.IP.
func (d RDataA) IP() net.IP { return net.IP(d[:]) }

// RDataAAAA is the 16-byte IPv6 address payload of an AAAA record
// (RFC 3596).
type RDataAAAA [16]byte

func (d RDataAAAA) encode(w *Writer) error { return w.Write(d[:]) }
func (d RDataAAAA) String() string         { return net.IP(d[:]).String() }

// IP returns the payload as a net.IP.
func (d RDataAAAA) IP() net.IP { return net.IP(d[:]) }

// RDataMX is the preference/exchanger payload of an MX record.
type RDataMX struct {
	Preference uint16
	Exchange   Name
}

func (d RDataMX) encode(w *Writer) error {
	if err := w.WriteUint16(d.Preference); err != nil {
		return err
	}
	return d.Exchange.Encode(w)
}

func (d RDataMX) String() string {
	return fmt.Sprintf("%d %s", d.Preference, d.Exchange.String())
}

// RDataName is the single-Name payload shared by CNAME, NS, and PTR
// records; Record.Type disambiguates which.
type RDataName struct {
	Name Name
}

func (d RDataName) encode(w *Writer) error { return d.Name.Encode(w) }
func (d RDataName) String() string         { return d.Name.String() }

// RDataSOA is the start-of-authority payload.
type RDataSOA struct {
	MName, RName                             Name
	Serial, Refresh, Retry, Expire, Minimum uint32
}

func (d RDataSOA) encode(w *Writer) error {
	if err := d.MName.Encode(w); err != nil {
		return err
	}
	if err := d.RName.Encode(w); err != nil {
		return err
	}
	for _, v := range [5]uint32{d.Serial, d.Refresh, d.Retry, d.Expire, d.Minimum} {
		if err := w.WriteUint32(v); err != nil {
			return err
		}
	}
	return nil
}

func (d RDataSOA) String() string {
	return fmt.Sprintf("%s %s %d %d %d %d %d",
		d.MName.String(), d.RName.String(), d.Serial, d.Refresh, d.Retry, d.Expire, d.Minimum)
}

// RDataTXT is the opaque byte string of a TXT record.
type RDataTXT []byte

func (d RDataTXT) encode(w *Writer) error { return w.Write(d) }
func (d RDataTXT) String() string         { return string(d) }

// RDataUnknown preserves the raw RDATA bytes of a record type this codec
// doesn't know the layout of, for round-trip fidelity.
type RDataUnknown struct {
	RRType Type
	Data   []byte
}

func (d RDataUnknown) encode(w *Writer) error { return w.Write(d.Data) }
func (d RDataUnknown) String() string         { return fmt.Sprintf("\\# %d", len(d.Data)) }

// DecodeRecord decodes one resource record from r, dispatching on the
// wire type to the appropriate RDATA shape.
func DecodeRecord(r *Reader) (Record, error) {
	name, err := r.DecodeName()
	if err != nil {
		return Record{}, err
	}
	rawType, err := r.TakeUint16()
	if err != nil {
		return Record{}, err
	}
	rawClass, err := r.TakeUint16()
	if err != nil {
		return Record{}, err
	}
	class, err := ParseClass(rawClass)
	if err != nil {
		return Record{}, err
	}
	ttl, err := r.TakeUint32()
	if err != nil {
		return Record{}, err
	}
	rdlength, err := r.TakeUint16()
	if err != nil {
		return Record{}, err
	}

	typ := ParseType(rawType)
	data, err := decodeRData(r, typ, int(rdlength))
	if err != nil {
		return Record{}, err
	}

	return Record{Name: name, Type: typ, Class: class, TTL: ttl, Data: data}, nil
}

func decodeRData(r *Reader, typ Type, rdlength int) (RData, error) {
	switch typ {
	case TypeA:
		if rdlength != 4 {
			return nil, ErrInvalidARecord
		}
		b, err := r.Take(4)
		if err != nil {
			return nil, err
		}
		var d RDataA
		copy(d[:], b)
		return d, nil

	case TypeAAAA:
		if rdlength != 16 {
			return nil, ErrInvalidAAAARecord
		}
		b, err := r.Take(16)
		if err != nil {
			return nil, err
		}
		var d RDataAAAA
		copy(d[:], b)
		return d, nil

	case TypeMX:
		if rdlength < 3 {
			return nil, ErrInvalidMXRecord
		}
		pref, err := r.TakeUint16()
		if err != nil {
			return nil, err
		}
		exch, err := r.DecodeName()
		if err != nil {
			return nil, err
		}
		return RDataMX{Preference: pref, Exchange: exch}, nil

	case TypeCNAME, TypeNS, TypePTR:
		n, err := r.DecodeName()
		if err != nil {
			return nil, err
		}
		return RDataName{Name: n}, nil

	case TypeSOA:
		mname, err := r.DecodeName()
		if err != nil {
			return nil, err
		}
		rname, err := r.DecodeName()
		if err != nil {
			return nil, err
		}
		var fields [5]uint32
		for i := range fields {
			v, err := r.TakeUint32()
			if err != nil {
				return nil, err
			}
			fields[i] = v
		}
		return RDataSOA{
			MName: mname, RName: rname,
			Serial: fields[0], Refresh: fields[1], Retry: fields[2],
			Expire: fields[3], Minimum: fields[4],
		}, nil

	case TypeTXT:
		b, err := r.Take(rdlength)
		if err != nil {
			return nil, err
		}
		return RDataTXT(append([]byte(nil), b...)), nil

	default:
		b, err := r.Take(rdlength)
		if err != nil {
			return nil, err
		}
		return RDataUnknown{RRType: typ, Data: append([]byte(nil), b...)}, nil
	}
}

// Encode writes rr to w: name, type, class, ttl, then the RDATA preceded
// by its computed RDLENGTH. The RDATA is staged in a scratch buffer so
// its encoded length is known before the length field is written.
func (rr Record) Encode(w *Writer) error {
	if err := rr.Name.Encode(w); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(rr.Type)); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(rr.Class)); err != nil {
		return err
	}
	if err := w.WriteUint32(rr.TTL); err != nil {
		return err
	}

	scratch := NewWriter(make([]byte, 65535))
	if err := rr.Data.encode(scratch); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(scratch.Len())); err != nil {
		return err
	}
	return w.Write(scratch.Bytes())
}

func (rr Record) String() string {
	return fmt.Sprintf("%s %d %s %s %s", rr.Name.String(), rr.TTL, rr.Class, rr.Type, rr.Data.String())
}
