// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

package zone

import (
	"bufio"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/user00265/dnscore/codec"
)

// ip4trieNode is one bit of a binary trie keyed on an IPv4 address: each
// level descends on one bit of the address, so a CIDR block of prefix
// length n occupies the node n levels deep. A query walks all 32 bits
// and remembers the deepest entry seen along the way, giving
// longest-prefix-match for free.
type ip4trieNode struct {
	children [2]*ip4trieNode
	aRecord  string
	txt      string
	ttl      uint32
	excluded bool
	isEntry  bool
}

// IP4Trie is a zone.Backend over a reverse-IPv4 blacklist: queries carry
// the looked-up address as the first four labels of name (e.g.
// "1.2.0.192.bl.example." for 192.0.2.1 under the bl.example zone), and
// the backend answers with the A/TXT pair configured for the
// longest matching CIDR block.
type IP4Trie struct {
	root    *ip4trieNode
	defTTL  uint32
	defA    string
	defText string
}

// NewIP4Trie builds an empty IP4Trie with defTTL used for entries that
// don't set their own TTL.
func NewIP4Trie(defTTL uint32) *IP4Trie {
	return &IP4Trie{root: &ip4trieNode{}, defTTL: defTTL}
}

// LoadIP4TrieFile populates t from a zone file where each line is
// "ip-or-cidr [:A:TXT]", a "!"-prefixed line excludes a block from an
// enclosing match, and a bare ":A:TXT" line sets the default value for
// entries that don't specify their own.
func LoadIP4TrieFile(t *IP4Trie, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "$") {
			continue
		}

		excluded := false
		if strings.HasPrefix(line, "!") {
			excluded = true
			line = line[1:]
		}

		if strings.HasPrefix(line, ":") {
			a, txt := parseIP4TrieValue(line)
			t.defA, t.defText = a, txt
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 1 {
			continue
		}

		aRecord, txt := t.defA, t.defText
		if len(fields) > 1 {
			aRecord, txt = parseIP4TrieValue(strings.Join(fields[1:], " "))
		}
		if aRecord == "" {
			aRecord = "127.0.0.2"
		}

		ipnet, err := parseIP4TrieCIDR(fields[0])
		if err != nil {
			continue
		}
		t.insert(ipnet, aRecord, txt, excluded)
	}
	return scanner.Err()
}

func parseIP4TrieCIDR(s string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(s)
	if err == nil {
		return ipnet, nil
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, err
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}, nil
}

// parseIP4TrieValue parses the Spamhaus-style ":A:TXT" value shorthand,
// where A may be a bare number of up to three digits, meaning
// "127.0.0.<number>".
func parseIP4TrieValue(s string) (aRecord, txt string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, ":") {
		return "127.0.0.2", s
	}
	parts := strings.SplitN(s[1:], ":", 2)
	a := strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		txt = parts[1]
	}
	if a == "" {
		a = "127.0.0.2"
	} else if len(a) <= 3 && !strings.Contains(a, ".") {
		a = "127.0.0." + a
	}
	return a, txt
}

func (t *IP4Trie) insert(ipnet *net.IPNet, aRecord, txt string, excluded bool) {
	ip4 := ipnet.IP.To4()
	if ip4 == nil {
		return
	}
	ones, _ := ipnet.Mask.Size()

	node := t.root
	for i := 0; i < ones; i++ {
		bit := (ip4[i/8] >> uint(7-i%8)) & 1
		if node.children[bit] == nil {
			node.children[bit] = &ip4trieNode{}
		}
		node = node.children[bit]
	}
	node.aRecord = aRecord
	node.txt = txt
	node.ttl = t.defTTL
	node.excluded = excluded
	node.isEntry = true
}

// lookup walks ip4's 32 bits through the trie and returns the deepest
// entry node seen along the path, or nil if none matched.
func (t *IP4Trie) lookup(ip4 net.IP) *ip4trieNode {
	node := t.root
	var best *ip4trieNode
	for _, octet := range ip4 {
		for bit := 7; bit >= 0 && node != nil; bit-- {
			if node.isEntry {
				best = node
			}
			node = node.children[(octet>>uint(bit))&1]
		}
	}
	if node != nil && node.isEntry {
		best = node
	}
	return best
}

// queryIPFromLabels reconstructs the looked-up address from the first
// four labels of name, leaf-first, exactly the reverse-octet convention
// a blacklist zone is queried under (e.g. "1.2.0.192" for 192.0.2.1).
func queryIPFromLabels(name codec.Name) net.IP {
	labels := name.Labels()
	if len(labels) < 4 {
		return nil
	}
	ip := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(string(labels[i]))
		if err != nil || v < 0 || v > 255 {
			return nil
		}
		ip[3-i] = byte(v)
	}
	return ip
}

// Query answers A and TXT queries for the address encoded in name's
// leading labels. Any other type returns no records: a blacklist zone
// carries no data of its own beyond the listing itself, which isn't a
// query-level failure.
func (t *IP4Trie) Query(name codec.Name, typ codec.Type, class codec.Class) (RecordList, error) {
	if class != codec.ClassIN {
		return nil, ErrUnsupportedClass
	}

	ip := queryIPFromLabels(name)
	if ip == nil {
		return nil, nil
	}

	node := t.lookup(ip)
	if node == nil || node.excluded {
		return nil, nil
	}

	ttl := node.ttl
	if ttl == 0 {
		ttl = t.defTTL
	}

	switch typ {
	case codec.TypeA:
		a := net.ParseIP(node.aRecord).To4()
		if a == nil {
			return nil, nil
		}
		var data codec.RDataA
		copy(data[:], a)
		return RecordList{{Name: name, Type: codec.TypeA, Class: codec.ClassIN, TTL: ttl, Data: data}}, nil

	case codec.TypeTXT:
		if node.txt == "" {
			return nil, nil
		}
		text := strings.ReplaceAll(node.txt, "$", ip.String())
		return RecordList{{Name: name, Type: codec.TypeTXT, Class: codec.ClassIN, TTL: ttl, Data: codec.RDataTXT(text)}}, nil

	default:
		return nil, nil
	}
}

// Close is a no-op: the trie holds no external resources once loaded.
func (t *IP4Trie) Close() error { return nil }
