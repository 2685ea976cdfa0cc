// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package codec

// Header is the 12-byte DNS message header, bit-exact per RFC 1035
// §4.1.1.
type Header struct {
	ID      uint16
	QR      bool
	OpCode  OpCode
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Z       bool
	AD      bool
	CD      bool
	RCode   RCode
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// NewQueryHeader builds the header of an outgoing query: QR=0,
// OPCODE=Query, RD=1, AD=1, all counts zero.
func NewQueryHeader(id uint16) Header {
	return Header{ID: id, OpCode: OpQuery, RD: true, AD: true}
}

// Response derives the header of a response to req: copies the
// transaction id and OPCODE, sets QR=1 and RA=1, and clears AD (the zone
// is authoritative for its own data but makes no DNSSEC validation
// claim).
func (h Header) Response() Header {
	resp := h
	resp.QR = true
	resp.RA = true
	resp.AD = false
	resp.AA = false
	resp.ANCount, resp.NSCount, resp.ARCount = 0, 0, 0
	return resp
}

func (h Header) decode(r *Reader) (Header, error) {
	id, err := r.TakeUint16()
	if err != nil {
		return Header{}, err
	}
	flags, err := r.TakeUint16()
	if err != nil {
		return Header{}, err
	}
	qd, err := r.TakeUint16()
	if err != nil {
		return Header{}, err
	}
	an, err := r.TakeUint16()
	if err != nil {
		return Header{}, err
	}
	ns, err := r.TakeUint16()
	if err != nil {
		return Header{}, err
	}
	ar, err := r.TakeUint16()
	if err != nil {
		return Header{}, err
	}

	return Header{
		ID:      id,
		QR:      flags&0x8000 != 0,
		OpCode:  OpCode((flags >> 11) & 0x0F),
		AA:      flags&0x0400 != 0,
		TC:      flags&0x0200 != 0,
		RD:      flags&0x0100 != 0,
		RA:      flags&0x0080 != 0,
		Z:       flags&0x0040 != 0,
		AD:      flags&0x0020 != 0,
		CD:      flags&0x0010 != 0,
		RCode:   RCode(flags & 0x000F),
		QDCount: qd,
		ANCount: an,
		NSCount: ns,
		ARCount: ar,
	}, nil
}

func (h Header) encode(w *Writer) error {
	if err := w.WriteUint16(h.ID); err != nil {
		return err
	}

	var flags uint16
	if h.QR {
		flags |= 0x8000
	}
	flags |= uint16(h.OpCode&0x0F) << 11
	if h.AA {
		flags |= 0x0400
	}
	if h.TC {
		flags |= 0x0200
	}
	if h.RD {
		flags |= 0x0100
	}
	if h.RA {
		flags |= 0x0080
	}
	if h.Z {
		flags |= 0x0040
	}
	if h.AD {
		flags |= 0x0020
	}
	if h.CD {
		flags |= 0x0010
	}
	flags |= uint16(h.RCode & 0x0F)

	if err := w.WriteUint16(flags); err != nil {
		return err
	}
	if err := w.WriteUint16(h.QDCount); err != nil {
		return err
	}
	if err := w.WriteUint16(h.ANCount); err != nil {
		return err
	}
	if err := w.WriteUint16(h.NSCount); err != nil {
		return err
	}
	return w.WriteUint16(h.ARCount)
}

// Question is one entry of the question section.
type Question struct {
	Name  Name
	Type  Type
	Class Class
}

func decodeQuestion(r *Reader) (Question, error) {
	name, err := r.DecodeName()
	if err != nil {
		return Question{}, err
	}
	rawType, err := r.TakeUint16()
	if err != nil {
		return Question{}, err
	}
	rawClass, err := r.TakeUint16()
	if err != nil {
		return Question{}, err
	}
	class, err := ParseClass(rawClass)
	if err != nil {
		return Question{}, err
	}
	return Question{Name: name, Type: ParseType(rawType), Class: class}, nil
}

func (q Question) encode(w *Writer) error {
	if err := q.Name.Encode(w); err != nil {
		return err
	}
	if err := w.WriteUint16(uint16(q.Type)); err != nil {
		return err
	}
	return w.WriteUint16(uint16(q.Class))
}

// Message is a decoded DNS message: header, questions, and answers. The
// authority and additional sections are parsed only far enough to skip
// their bytes (via each record's RDLENGTH) so the reader ends exactly at
// the end of the frame; this core has no use for their contents.
type Message struct {
	Header    Header
	Questions []Question
	Answers   []Record
}

// Decode parses a complete DNS message out of buf.
func Decode(buf []byte) (Message, error) {
	r := NewReader(buf)
	var m Message

	hdr, err := m.Header.decode(r)
	if err != nil {
		return Message{}, err
	}
	m.Header = hdr

	m.Questions = make([]Question, 0, hdr.QDCount)
	for i := uint16(0); i < hdr.QDCount; i++ {
		q, err := decodeQuestion(r)
		if err != nil {
			return Message{}, err
		}
		m.Questions = append(m.Questions, q)
	}

	m.Answers = make([]Record, 0, hdr.ANCount)
	for i := uint16(0); i < hdr.ANCount; i++ {
		rr, err := DecodeRecord(r)
		if err != nil {
			return Message{}, err
		}
		m.Answers = append(m.Answers, rr)
	}

	for i := uint16(0); i < hdr.NSCount; i++ {
		if err := skipRecord(r); err != nil {
			return Message{}, err
		}
	}
	for i := uint16(0); i < hdr.ARCount; i++ {
		if err := skipRecord(r); err != nil {
			return Message{}, err
		}
	}

	return m, nil
}

// skipRecord advances r past one resource record without retaining it,
// using its RDLENGTH — enough to keep a pipelined TCP reader in sync
// without this core needing to understand authority/additional RDATA.
func skipRecord(r *Reader) error {
	if _, err := r.DecodeName(); err != nil {
		return err
	}
	if _, err := r.TakeUint16(); err != nil { // type
		return err
	}
	if _, err := r.TakeUint16(); err != nil { // class
		return err
	}
	if _, err := r.TakeUint32(); err != nil { // ttl
		return err
	}
	rdlength, err := r.TakeUint16()
	if err != nil {
		return err
	}
	_, err = r.Take(int(rdlength))
	return err
}

// Encode writes m to a writer of fixed capacity, failing with
// ErrTruncatedMessage if it doesn't fit; on failure w is rolled back to
// its length before the call, so no partial frame is left in it. Count
// fields are taken from the list lengths, not any value cached on Header.
func (m Message) Encode(w *Writer) (err error) {
	start := w.Len()
	defer func() {
		if err != nil {
			w.Truncate(start)
		}
	}()

	hdr := m.Header
	hdr.QDCount = uint16(len(m.Questions))
	hdr.ANCount = uint16(len(m.Answers))
	hdr.NSCount = 0
	hdr.ARCount = 0

	if err := hdr.encode(w); err != nil {
		return err
	}
	for _, q := range m.Questions {
		if err := q.encode(w); err != nil {
			return err
		}
	}
	for _, rr := range m.Answers {
		if err := rr.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

// EncodeTruncating encodes m into w, and if the full answer set doesn't
// fit, drops trailing answers (setting TC) until it does, down to no
// answers at all. It returns ErrTruncatedMessage only when the header and
// questions alone exceed w's capacity.
func (m Message) EncodeTruncating(w *Writer) error {
	if err := m.Encode(w); err == nil {
		return nil
	}

	truncated := m
	truncated.Header.TC = true
	for n := len(m.Answers); n >= 0; n-- {
		truncated.Answers = m.Answers[:n]
		w.Reset()
		if err := truncated.Encode(w); err == nil {
			return nil
		}
	}
	return ErrTruncatedMessage
}
