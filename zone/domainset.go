// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package zone

import (
	"bufio"
	"net"
	"os"
	"strings"

	"github.com/user00265/dnscore/codec"
	"github.com/user00265/dnscore/nametree"
)

// domainEntry is the value stored at a matched name in a DomainSet's
// tree: the A/TXT pair to answer with, or a negation that overrides any
// wildcard ancestor that would otherwise have matched.
type domainEntry struct {
	aRecord string
	txt     string
	ttl     uint32
	negated bool
}

// DomainSet is a zone.Backend over a blacklisted-domain set: plain and
// wildcard ("*.example.com.") entries share one nametree.Tree, so a
// lookup is exactly the tree's own exact-then-wildcard fallback instead
// of a sorted linear scan.
type DomainSet struct {
	tree    *nametree.Tree[domainEntry]
	defTTL  uint32
	defA    string
	defText string
}

// NewDomainSet builds an empty DomainSet with defTTL used for entries
// that don't carry their own TTL. The tree has no fixed origin: entries
// are arbitrary domains, not necessarily under one zone's apex.
func NewDomainSet(defTTL uint32) *DomainSet {
	return &DomainSet{tree: nametree.NewRoot[domainEntry](), defTTL: defTTL}
}

// LoadDomainSetFile populates s from a zone file where each line is a
// domain name, optionally "*."-prefixed for a wildcard entry or
// "!"-prefixed to negate an otherwise-matching wildcard, followed by an
// optional ":A:TXT" value. A bare ":A:TXT" line sets the default value
// for entries that don't specify their own.
func LoadDomainSetFile(s *DomainSet, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, ":") {
			a, txt := parseIP4TrieValue(line)
			s.defA, s.defText = a, txt
			continue
		}

		negated := false
		if strings.HasPrefix(line, "!") {
			negated = true
			line = strings.TrimSpace(line[1:])
		}

		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}

		domain := strings.ToLower(fields[0])
		if net.ParseIP(domain) != nil || strings.Contains(domain, "/") {
			continue
		}

		aRecord, txt, ttl := s.defA, s.defText, s.defTTL
		if len(fields) > 1 && !negated {
			aRecord, txt = parseIP4TrieValue(strings.Join(fields[1:], " "))
		}
		if aRecord == "" {
			aRecord = "127.0.0.2"
		}

		name, err := codec.NameFromText(domain)
		if err != nil {
			continue
		}
		if err := s.tree.Insert(name, domainEntry{aRecord: aRecord, txt: txt, ttl: ttl, negated: negated}); err != nil {
			continue
		}
	}
	return scanner.Err()
}

// Query answers A and TXT queries with the entry matched for name,
// following the tree's exact-then-wildcard fallback. Any other type
// returns no records, the same as IP4Trie.
func (s *DomainSet) Query(name codec.Name, typ codec.Type, class codec.Class) (RecordList, error) {
	if class != codec.ClassIN {
		return nil, ErrUnsupportedClass
	}

	node := s.tree.Find(name)
	if node == nil {
		return nil, nil
	}
	entry, ok := node.Value()
	if !ok || entry.negated {
		return nil, nil
	}

	ttl := entry.ttl
	if ttl == 0 {
		ttl = s.defTTL
	}

	switch typ {
	case codec.TypeA:
		ip := net.ParseIP(entry.aRecord).To4()
		if ip == nil {
			return nil, nil
		}
		var data codec.RDataA
		copy(data[:], ip)
		return RecordList{{Name: name, Type: codec.TypeA, Class: codec.ClassIN, TTL: ttl, Data: data}}, nil

	case codec.TypeTXT:
		if entry.txt == "" {
			return nil, nil
		}
		text := strings.ReplaceAll(entry.txt, "$", strings.TrimSuffix(name.String(), "."))
		return RecordList{{Name: name, Type: codec.TypeTXT, Class: codec.ClassIN, TTL: ttl, Data: codec.RDataTXT(text)}}, nil

	default:
		return nil, nil
	}
}

// Close destroys the backing tree. Safe to call once; nametree.Tree
// destruction is itself idempotent.
func (s *DomainSet) Close() error {
	s.tree.Destroy()
	return nil
}
