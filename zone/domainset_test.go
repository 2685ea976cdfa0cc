// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package zone

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/user00265/dnscore/codec"
)

func TestDomainSetExact(t *testing.T) {
	dir := t.TempDir()
	zonePath := filepath.Join(dir, "zone.txt")
	if err := os.WriteFile(zonePath, []byte("spammer.example :127.0.0.2:Spam source\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ds := NewDomainSet(3600)
	if err := LoadDomainSetFile(ds, zonePath); err != nil {
		t.Fatalf("LoadDomainSetFile: %v", err)
	}

	name, err := codec.NameFromText("spammer.example.")
	if err != nil {
		t.Fatal(err)
	}
	records, err := ds.Query(name, codec.TypeA, codec.ClassIN)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 A record, got %d", len(records))
	}
}

func TestDomainSetWildcard(t *testing.T) {
	dir := t.TempDir()
	zonePath := filepath.Join(dir, "zone.txt")
	if err := os.WriteFile(zonePath, []byte("*.spammer.example :127.0.0.3:\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ds := NewDomainSet(3600)
	if err := LoadDomainSetFile(ds, zonePath); err != nil {
		t.Fatal(err)
	}

	sub, err := codec.NameFromText("mail.spammer.example.")
	if err != nil {
		t.Fatal(err)
	}
	records, err := ds.Query(sub, codec.TypeA, codec.ClassIN)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected wildcard match, got %v", records)
	}
	a, ok := records[0].Data.(codec.RDataA)
	if !ok || a.IP().String() != "127.0.0.3" {
		t.Fatalf("unexpected A rdata: %#v", records[0].Data)
	}
}

func TestDomainSetMiss(t *testing.T) {
	dir := t.TempDir()
	zonePath := filepath.Join(dir, "zone.txt")
	if err := os.WriteFile(zonePath, []byte("spammer.example :127.0.0.2:\n"), 0644); err != nil {
		t.Fatal(err)
	}

	ds := NewDomainSet(3600)
	if err := LoadDomainSetFile(ds, zonePath); err != nil {
		t.Fatal(err)
	}

	name, err := codec.NameFromText("clean.example.")
	if err != nil {
		t.Fatal(err)
	}
	records, err := ds.Query(name, codec.TypeA, codec.ClassIN)
	if err != nil {
		t.Fatal(err)
	}
	if records != nil {
		t.Fatalf("expected no records, got %v", records)
	}
}

func TestDomainSetRejectsNonIN(t *testing.T) {
	ds := NewDomainSet(3600)
	name, err := codec.NameFromText("spammer.example.")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ds.Query(name, codec.TypeA, codec.Class(3)); err != ErrUnsupportedClass {
		t.Fatalf("expected ErrUnsupportedClass, got %v", err)
	}
}
