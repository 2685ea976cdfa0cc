// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package zone

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/user00265/dnscore/codec"
)

func TestIP4TrieMatch(t *testing.T) {
	dir := t.TempDir()
	zonePath := filepath.Join(dir, "zone.txt")
	if err := os.WriteFile(zonePath, []byte("192.0.2.0/24 :127.0.0.2:Listed\n"), 0644); err != nil {
		t.Fatal(err)
	}

	trie := NewIP4Trie(3600)
	if err := LoadIP4TrieFile(trie, zonePath); err != nil {
		t.Fatalf("LoadIP4TrieFile: %v", err)
	}

	name, err := codec.NameFromText("1.2.0.192.bl.test.")
	if err != nil {
		t.Fatal(err)
	}
	records, err := trie.Query(name, codec.TypeA, codec.ClassIN)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 A record, got %d", len(records))
	}
	a, ok := records[0].Data.(codec.RDataA)
	if !ok || a.IP().String() != "127.0.0.2" {
		t.Fatalf("unexpected A rdata: %#v", records[0].Data)
	}

	txtRecords, err := trie.Query(name, codec.TypeTXT, codec.ClassIN)
	if err != nil {
		t.Fatal(err)
	}
	if len(txtRecords) != 1 || string(txtRecords[0].Data.(codec.RDataTXT)) != "Listed" {
		t.Fatalf("unexpected TXT rdata: %#v", txtRecords)
	}
}

func TestIP4TrieMiss(t *testing.T) {
	dir := t.TempDir()
	zonePath := filepath.Join(dir, "zone.txt")
	if err := os.WriteFile(zonePath, []byte("192.0.2.0/24 :127.0.0.2:Listed\n"), 0644); err != nil {
		t.Fatal(err)
	}

	trie := NewIP4Trie(3600)
	if err := LoadIP4TrieFile(trie, zonePath); err != nil {
		t.Fatal(err)
	}

	name, err := codec.NameFromText("203.3.2.1.bl.test.")
	if err != nil {
		t.Fatal(err)
	}
	records, err := trie.Query(name, codec.TypeA, codec.ClassIN)
	if err != nil {
		t.Fatal(err)
	}
	if records != nil {
		t.Fatalf("expected no records, got %v", records)
	}
}

func TestIP4TrieExclusion(t *testing.T) {
	dir := t.TempDir()
	zonePath := filepath.Join(dir, "zone.txt")
	body := "192.0.2.0/24 :127.0.0.2:Listed\n!192.0.2.128/25\n"
	if err := os.WriteFile(zonePath, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	trie := NewIP4Trie(3600)
	if err := LoadIP4TrieFile(trie, zonePath); err != nil {
		t.Fatal(err)
	}

	listed, _ := codec.NameFromText("1.2.0.192.bl.test.")
	if records, err := trie.Query(listed, codec.TypeA, codec.ClassIN); err != nil || len(records) != 1 {
		t.Fatalf("expected listed address to match, got %v, %v", records, err)
	}

	excluded, _ := codec.NameFromText("200.2.0.192.bl.test.")
	records, err := trie.Query(excluded, codec.TypeA, codec.ClassIN)
	if err != nil {
		t.Fatal(err)
	}
	if records != nil {
		t.Fatalf("expected excluded address to have no records, got %v", records)
	}
}

func TestIP4TrieRejectsNonIN(t *testing.T) {
	trie := NewIP4Trie(3600)
	name, err := codec.NameFromText("1.2.0.192.bl.test.")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := trie.Query(name, codec.TypeA, codec.Class(3)); err != ErrUnsupportedClass {
		t.Fatalf("expected ErrUnsupportedClass, got %v", err)
	}
}
