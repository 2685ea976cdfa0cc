// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package codec

import (
	"errors"
	"strings"
	"testing"
)

func TestNameFromTextRoundTrip(t *testing.T) {
	cases := []string{
		"www.example.com",
		"www.example.com.",
		".",
		"example.com",
		"a.b.c.d.e",
		"*.example.com",
	}
	for _, s := range cases {
		n, err := NameFromText(s)
		if err != nil {
			t.Fatalf("NameFromText(%q): %v", s, err)
		}
		formatted := n.String()
		n2, err := NameFromText(formatted)
		if err != nil {
			t.Fatalf("NameFromText(%q) round-trip: %v", formatted, err)
		}
		if !n.Equal(n2) {
			t.Fatalf("round-trip mismatch for %q: got %q", s, formatted)
		}
	}
}

func TestNameFromTextLabelTooLong(t *testing.T) {
	label63 := strings.Repeat("a", 63)
	if _, err := NameFromText(label63 + ".com"); err != nil {
		t.Fatalf("63-byte label should be accepted: %v", err)
	}
	label64 := strings.Repeat("a", 64)
	_, err := NameFromText(label64 + ".com")
	if !errors.Is(err, ErrLabelTooLong) {
		t.Fatalf("expected ErrLabelTooLong, got %v", err)
	}
}

func TestNameFromTextLength255(t *testing.T) {
	// 3 labels of 63 bytes + 1 label of 61 bytes: label-byte tally
	// (63+1)*3 + (61+1) = 192+62 = 254, plus the root terminator = 255.
	labels := []string{
		strings.Repeat("a", 63),
		strings.Repeat("a", 63),
		strings.Repeat("a", 63),
		strings.Repeat("a", 61),
	}
	name := strings.Join(labels, ".")
	n, err := NameFromText(name)
	if err != nil {
		t.Fatalf("expected exactly-255 name to be accepted: %v", err)
	}
	if n.EncodedLength() != 255 {
		t.Fatalf("expected encoded length 255, got %d", n.EncodedLength())
	}

	over := strings.Join(append(labels, "b"), ".")
	if _, err := NameFromText(over); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestNameFromTextTooManyLabels(t *testing.T) {
	// 127 single-byte labels: (1+1)*127 = 254, plus root = 255 -- right at
	// both the label-count and length boundary simultaneously.
	labels := make([]string, 127)
	for i := range labels {
		labels[i] = "a"
	}
	n, err := NameFromText(strings.Join(labels, "."))
	if err != nil {
		t.Fatalf("127 labels should be accepted: %v", err)
	}
	if n.EncodedLength() != 255 {
		t.Fatalf("expected encoded length 255, got %d", n.EncodedLength())
	}

	labels = append(labels, "a")
	if _, err := NameFromText(strings.Join(labels, ".")); !errors.Is(err, ErrTooManyLabels) {
		t.Fatalf("expected ErrTooManyLabels for 128 labels")
	}
}

func TestNameFromTextWildcard(t *testing.T) {
	if _, err := NameFromText("*.example.com"); err != nil {
		t.Fatalf("leftmost wildcard should be accepted: %v", err)
	}
	if _, err := NameFromText("example.*.com"); !errors.Is(err, ErrWildcardNotFirst) {
		t.Fatalf("expected ErrWildcardNotFirst, got %v", err)
	}
	if _, err := NameFromText("foo*bar.com"); !errors.Is(err, ErrWildcardNotAlone) {
		t.Fatalf("expected ErrWildcardNotAlone, got %v", err)
	}
}

func TestNameDecodeEncodeRoundTrip(t *testing.T) {
	n, err := NameFromText("duckduckgo.com")
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 512)
	w := NewWriter(buf)
	if err := n.Encode(w); err != nil {
		t.Fatal(err)
	}

	decoded, newOffset, err := DecodeName(w.Bytes(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if newOffset != w.Len() {
		t.Fatalf("expected cursor at %d, got %d", w.Len(), newOffset)
	}
	if !decoded.Equal(n) {
		t.Fatalf("decoded name %q != original %q", decoded.String(), n.String())
	}
}

// TestNameCompressionProbe exercises scenario S2 from the spec.
func TestNameCompressionProbe(t *testing.T) {
	buf := []byte{
		0xcd, 0xa4,
		0x05, 0x01, 0x02, 0x03, 0x04, 0x05,
		0x03, 0xaa, 0xbb, 0xcc,
		0x04, 0x1a, 0x2b, 0x3c, 0x4d,
		0x00,
		0x02, 0xab, 0xcd,
		0xc0, 0x02,
	}

	// EncodedLength() counts the trailing root label per the §3 data-model
	// invariant ("wire length ... including the trailing zero"), so it
	// runs one byte higher than the raw label-byte tally.
	n1, newOffset1, err := DecodeName(buf, 2)
	if err != nil {
		t.Fatalf("decode at offset 2: %v", err)
	}
	if n1.LabelCount() != 3 {
		t.Fatalf("expected 3 labels, got %d", n1.LabelCount())
	}
	if n1.EncodedLength() != 16 {
		t.Fatalf("expected 16 encoded bytes, got %d", n1.EncodedLength())
	}
	if newOffset1 != 18 {
		t.Fatalf("expected reader offset 18, got %d", newOffset1)
	}

	n2, newOffset2, err := DecodeName(buf, 18)
	if err != nil {
		t.Fatalf("decode at offset 18: %v", err)
	}
	if n2.LabelCount() != 4 {
		t.Fatalf("expected 4 labels, got %d", n2.LabelCount())
	}
	if n2.EncodedLength() != 19 {
		t.Fatalf("expected 19 encoded bytes, got %d", n2.EncodedLength())
	}
	if newOffset2 != 23 {
		t.Fatalf("expected reader offset 23 (past the 2-byte pointer), got %d", newOffset2)
	}
}

// TestNameForwardPointerRejected exercises scenario S3.
func TestNameForwardPointerRejected(t *testing.T) {
	buf := []byte{0xc0, 0x05, 0x00, 0x00, 0x00, 0x03, 0x63, 0x6f, 0x6d, 0x00}
	_, _, err := DecodeName(buf, 0)
	if !errors.Is(err, ErrInvalidPointerAddr) {
		t.Fatalf("expected ErrInvalidPointerAddr, got %v", err)
	}
}

func TestNameSelfPointerRejected(t *testing.T) {
	buf := []byte{0xc0, 0x00}
	_, _, err := DecodeName(buf, 0)
	if !errors.Is(err, ErrInvalidPointerAddr) {
		t.Fatalf("expected ErrInvalidPointerAddr, got %v", err)
	}
}

func TestNameReservedLabelHeader(t *testing.T) {
	for _, hdr := range []byte{0x40, 0x80} {
		buf := []byte{hdr, 0x00, 0x00}
		if _, _, err := DecodeName(buf, 0); !errors.Is(err, ErrInvalidLabelHeader) {
			t.Fatalf("header 0x%x: expected ErrInvalidLabelHeader, got %v", hdr, err)
		}
	}
}

func TestNameNoRootLabel(t *testing.T) {
	buf := []byte{0x03, 'c', 'o', 'm'}
	if _, _, err := DecodeName(buf, 0); !errors.Is(err, ErrNoRootLabel) {
		t.Fatalf("expected ErrNoRootLabel, got %v", err)
	}
}

func TestNameLabelsForwardReverse(t *testing.T) {
	n, err := NameFromText("www.example.com")
	if err != nil {
		t.Fatal(err)
	}
	fwd := n.Labels()
	if len(fwd) != 3 || string(fwd[0]) != "www" || string(fwd[1]) != "example" || string(fwd[2]) != "com" {
		t.Fatalf("unexpected forward labels: %v", fwd)
	}
	rev := n.LabelsReverse()
	if len(rev) != 3 || string(rev[0]) != "com" || string(rev[1]) != "example" || string(rev[2]) != "www" {
		t.Fatalf("unexpected reverse labels: %v", rev)
	}
}

func TestNameIterContext(t *testing.T) {
	origin, err := NameFromText("example.com")
	if err != nil {
		t.Fatal(err)
	}
	self, err := NameFromText("www.example.com")
	if err != nil {
		t.Fatal(err)
	}
	labels, err := self.IterContext(origin)
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 1 || string(labels[0]) != "www" {
		t.Fatalf("unexpected context labels: %v", labels)
	}

	same, err := NameFromText("example.com")
	if err != nil {
		t.Fatal(err)
	}
	labels, err = same.IterContext(origin)
	if err != nil {
		t.Fatal(err)
	}
	if labels != nil {
		t.Fatalf("expected nil labels for self==origin, got %v", labels)
	}

	other, err := NameFromText("www.other.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.IterContext(origin); !errors.Is(err, ErrNotASubdomain) {
		t.Fatalf("expected ErrNotASubdomain, got %v", err)
	}
}

func TestNameIterContextWildcardOrigin(t *testing.T) {
	origin, err := NameFromText("*.example.com")
	if err != nil {
		t.Fatal(err)
	}
	self, err := NameFromText("www.foo.example.com")
	if err != nil {
		t.Fatal(err)
	}
	labels, err := self.IterContext(origin)
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 1 || string(labels[0]) != "www" {
		t.Fatalf("unexpected labels: %v", labels)
	}
}

func TestDecodedLengthMatchesDecode(t *testing.T) {
	n, err := NameFromText("duckduckgo.com")
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 512)
	w := NewWriter(buf)
	if err := n.Encode(w); err != nil {
		t.Fatal(err)
	}

	bytes, labels, err := DecodedLength(w.Bytes(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if bytes != n.EncodedLength() || labels != n.LabelCount() {
		t.Fatalf("DecodedLength mismatch: got (%d,%d) want (%d,%d)", bytes, labels, n.EncodedLength(), n.LabelCount())
	}
}
