// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package zone

import (
	"errors"
	"testing"

	"github.com/user00265/dnscore/codec"
)

func mustName(t *testing.T, s string) codec.Name {
	t.Helper()
	n, err := codec.NameFromText(s)
	if err != nil {
		t.Fatalf("NameFromText(%q): %v", s, err)
	}
	return n
}

// TestZoneApexMiss exercises scenario S5: a dict zone with context
// example.com. and a childless "www" branch under the A tree.
func TestZoneApexMiss(t *testing.T) {
	context := mustName(t, "example.com.")
	dict := NewDict(context)

	// Register the A tree by inserting a branch node with no value,
	// mirroring "child www under A-tree (no value)".
	aTree := dict.treeFor(codec.ClassIN, codec.TypeA)
	if _, err := aTree.Root().AddChild("www", nil); err != nil {
		t.Fatal(err)
	}

	z := New(context, dict)

	records, err := z.Query(mustName(t, "www.example.com."), codec.TypeA, codec.ClassIN)
	if err != nil {
		t.Fatalf("expected no error for a known-but-empty node, got %v", err)
	}
	if records != nil {
		t.Fatalf("expected nil records, got %v", records)
	}

	records, err = z.Query(mustName(t, "www.other.com."), codec.TypeA, codec.ClassIN)
	if err != nil {
		t.Fatalf("expected nil error for an out-of-zone name (not NXDOMAIN at this layer), got %v", err)
	}
	if records != nil {
		t.Fatalf("expected nil records for an out-of-zone name, got %v", records)
	}

	records, err = z.Query(mustName(t, "www.example.com."), codec.TypeMX, codec.ClassIN)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType for an absent MX tree, got %v", err)
	}
	if records != nil {
		t.Fatalf("expected nil records alongside the error, got %v", records)
	}
}

func TestDictInsertAndQueryRoundRobin(t *testing.T) {
	context := mustName(t, "example.com.")
	dict := NewDict(context)
	name := mustName(t, "www.example.com.")

	rr1 := codec.Record{Name: name, Type: codec.TypeA, Class: codec.ClassIN, TTL: 60, Data: codec.RDataA{1, 2, 3, 4}}
	rr2 := codec.Record{Name: name, Type: codec.TypeA, Class: codec.ClassIN, TTL: 60, Data: codec.RDataA{5, 6, 7, 8}}

	if err := dict.Insert(rr1); err != nil {
		t.Fatal(err)
	}
	if err := dict.Insert(rr2); err != nil {
		t.Fatal(err)
	}

	z := New(context, dict)
	records, err := z.Query(name, codec.TypeA, codec.ClassIN)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 accumulated A records, got %d", len(records))
	}
}

func TestDictInsertRejectsNonIN(t *testing.T) {
	context := mustName(t, "example.com.")
	dict := NewDict(context)
	rr := codec.Record{Name: mustName(t, "www.example.com."), Type: codec.TypeA, Class: codec.Class(3), TTL: 60, Data: codec.RDataA{1, 2, 3, 4}}
	if err := dict.Insert(rr); !errors.Is(err, ErrUnsupportedClass) {
		t.Fatalf("expected ErrUnsupportedClass, got %v", err)
	}
}

func TestZoneApexNSAndSOA(t *testing.T) {
	context := mustName(t, "example.com.")
	dict := NewDict(context)

	ns := codec.Record{
		Name: context, Type: codec.TypeNS, Class: codec.ClassIN, TTL: 3600,
		Data: codec.RDataName{Name: mustName(t, "ns1.example.com.")},
	}
	soa := codec.Record{
		Name: context, Type: codec.TypeSOA, Class: codec.ClassIN, TTL: 3600,
		Data: codec.RDataSOA{
			MName: mustName(t, "ns1.example.com."), RName: mustName(t, "hostmaster.example.com."),
			Serial: 1, Refresh: 7200, Retry: 3600, Expire: 1209600, Minimum: 300,
		},
	}
	if err := dict.Insert(ns); err != nil {
		t.Fatal(err)
	}
	if err := dict.Insert(soa); err != nil {
		t.Fatal(err)
	}

	z := New(context, dict)
	nsRecords, err := z.Query(context, codec.TypeNS, codec.ClassIN)
	if err != nil {
		t.Fatal(err)
	}
	if len(nsRecords) != 1 {
		t.Fatalf("expected 1 NS record at the apex, got %d", len(nsRecords))
	}

	soaRecords, err := z.Query(context, codec.TypeSOA, codec.ClassIN)
	if err != nil {
		t.Fatal(err)
	}
	if len(soaRecords) != 1 {
		t.Fatalf("expected 1 SOA record at the apex, got %d", len(soaRecords))
	}
}

func TestZoneCloseIsIdempotent(t *testing.T) {
	context := mustName(t, "example.com.")
	dict := NewDict(context)
	if err := dict.Insert(codec.Record{Name: mustName(t, "www.example.com."), Type: codec.TypeA, Class: codec.ClassIN, TTL: 60, Data: codec.RDataA{1, 1, 1, 1}}); err != nil {
		t.Fatal(err)
	}
	z := New(context, dict)
	if err := z.Close(); err != nil {
		t.Fatal(err)
	}
	if err := z.Close(); err != nil {
		t.Fatal(err)
	}
}
