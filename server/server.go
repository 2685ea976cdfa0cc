// Copyright (c) 2024 Elisamuel Resto Donate <sam@samresto.dev>
// SPDX-License-Identifier: MIT

// Package server implements the DNS server core: it decodes queries off
// UDP and TCP, routes them to the matching zone, enforces per-zone ACLs,
// and encodes responses, while a background ConfigManager hot-reloads
// zone and ACL files underneath it.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/user00265/dnscore/acl"
	"github.com/user00265/dnscore/codec"
	"github.com/user00265/dnscore/config"
	"github.com/user00265/dnscore/metrics"
	"github.com/user00265/dnscore/zone"
)

// defaultZoneTTL is used for a zone's apex NS records and for any
// backend entries that carry no TTL of their own, when the zone config
// omits default_ttl. The apex SOA record takes its TTL from the SOA
// minimum field instead.
const defaultZoneTTL = 3600

// Server represents the DNS server instance. It manages multiple zones
// and serves queries over UDP and, optionally, TCP.
type Server struct {
	configPath     string
	configMgr      *config.ConfigManager
	zones          map[string]*managedZone
	zonesMu        sync.RWMutex
	udpConn        *net.UDPConn
	tcpListener    net.Listener
	addr           string
	tcpAddr        string
	maxTCPFrame    int
	tolerateEDNS   bool
	done           atomic.Bool
	ctx            context.Context
	cancel         context.CancelFunc
	arena          *codec.Arena
	metrics        *metrics.Metrics
	watcher        *fsnotify.Watcher
	autoReload     bool
	reloadDebounce time.Duration
	reloadTimer    *time.Timer
	reloadMu       sync.Mutex
}

// managedZone pairs a zone.Zone with the ACL that gates it and the
// configuration it was built from, so a reload can tell what changed.
type managedZone struct {
	name     string
	dataType string
	files    []string
	zone     *zone.Zone
	acl      *acl.ACL
}

// New creates a new DNS server from the provided configuration.
func New(cfg *config.Config, configPath string) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	maxTCPFrame := cfg.Codec.MaxTCPFrameSize
	if maxTCPFrame <= 0 {
		maxTCPFrame = 65535
	}

	srv := &Server{
		configPath:     configPath,
		zones:          make(map[string]*managedZone),
		addr:           cfg.Server.Bind,
		tcpAddr:        cfg.Server.TCPBind,
		maxTCPFrame:    maxTCPFrame,
		tolerateEDNS:   cfg.Codec.ToleraEDNS,
		ctx:            ctx,
		cancel:         cancel,
		arena:          codec.NewArena(),
		autoReload:     cfg.Server.AutoReload,
		reloadDebounce: time.Duration(cfg.Server.ReloadDebounce) * time.Second,
	}

	if srv.reloadDebounce == 0 {
		srv.reloadDebounce = 2 * time.Second
	}

	m, err := metrics.New(cfg.Metrics.OTELEndpoint, cfg.Metrics.PrometheusEndpoint)
	if err != nil {
		log.Printf("warning: failed to initialize metrics: %v", err)
	}
	srv.metrics = m

	if err := srv.loadZones(cfg); err != nil {
		cancel()
		return nil, err
	}

	if configPath != "" {
		configMgr, err := config.NewConfigManager(configPath, srv.handleConfigReload)
		if err != nil {
			log.Printf("warning: failed to initialize config manager: %v", err)
		} else {
			srv.configMgr = configMgr
			if err := configMgr.Start(); err != nil {
				log.Printf("warning: failed to start config manager: %v", err)
			}
		}
	}

	if srv.autoReload {
		if err := srv.initFileWatcher(cfg); err != nil {
			log.Printf("warning: failed to initialize file watcher: %v", err)
			log.Printf("automatic reload disabled, use SIGHUP for manual reload")
			srv.autoReload = false
		} else {
			log.Printf("automatic zone file monitoring enabled (debounce: %v)", srv.reloadDebounce)
		}
	}

	return srv, nil
}

// buildZone constructs a managedZone from its configuration: an apex
// Dict carrying NS/SOA, layered with the configured backend type (if
// any) via zone.Composite.
func buildZone(zc config.ZoneConfig) (*managedZone, error) {
	ctxName, err := codec.NameFromText(zc.Name)
	if err != nil {
		return nil, fmt.Errorf("zone %s: invalid name: %w", zc.Name, err)
	}

	ttl := zc.DefaultTTL
	if ttl == 0 {
		ttl = defaultZoneTTL
	}

	apex := zone.NewDict(ctxName)
	if err := insertApexRecords(apex, ctxName, zc, ttl); err != nil {
		return nil, fmt.Errorf("zone %s: apex records: %w", zc.Name, err)
	}

	data, err := buildDataBackend(zc, ttl)
	if err != nil {
		return nil, fmt.Errorf("zone %s: %w", zc.Name, err)
	}

	zoneACL, err := buildACL(zc, ctxName)
	if err != nil {
		return nil, err
	}

	return &managedZone{
		name:     zc.Name,
		dataType: zc.Type,
		files:    zc.Files,
		zone:     zone.New(ctxName, zone.NewComposite(apex, data)),
		acl:      zoneACL,
	}, nil
}

// buildDataBackend constructs the zone's polymorphic data backend from
// its configured type: "ip4trie" for a reverse-IPv4 blacklist, "dnset"
// for a domain blacklist, or nil (apex-only) for "dict" or unset.
func buildDataBackend(zc config.ZoneConfig, ttl uint32) (zone.Backend, error) {
	switch zc.Type {
	case "", "dict":
		return nil, nil

	case "ip4trie":
		trie := zone.NewIP4Trie(ttl)
		for _, f := range zc.Files {
			if err := zone.LoadIP4TrieFile(trie, f); err != nil {
				return nil, fmt.Errorf("ip4trie %s: %w", f, err)
			}
		}
		return trie, nil

	case "dnset":
		set := zone.NewDomainSet(ttl)
		for _, f := range zc.Files {
			if err := zone.LoadDomainSetFile(set, f); err != nil {
				return nil, fmt.Errorf("dnset %s: %w", f, err)
			}
		}
		return set, nil

	default:
		return nil, fmt.Errorf("unknown zone type %q", zc.Type)
	}
}

// insertApexRecords populates apex's NS and SOA records, when the zone
// config names any, at the zone's own context name.
func insertApexRecords(apex *zone.Dict, ctxName codec.Name, zc config.ZoneConfig, ttl uint32) error {
	for _, ns := range zc.NS {
		nsName, err := codec.NameFromText(ns)
		if err != nil {
			log.Printf("warning: zone %s: invalid NS target %q: %v", zc.Name, ns, err)
			continue
		}
		if err := apex.Insert(codec.Record{
			Name: ctxName, Type: codec.TypeNS, Class: codec.ClassIN, TTL: ttl,
			Data: codec.RDataName{Name: nsName},
		}); err != nil {
			return err
		}
	}

	soaConfig := zc.SOA
	if len(zc.NS) > 0 && soaConfig.MName == "" {
		soaConfig.MName = zc.NS[0]
	}
	if soaConfig.MName == "" || soaConfig.RName == "" {
		return nil
	}
	if soaConfig.Refresh == 0 {
		soaConfig.Refresh = 3600
	}
	if soaConfig.Retry == 0 {
		soaConfig.Retry = 600
	}
	if soaConfig.Expire == 0 {
		soaConfig.Expire = 86400
	}
	if soaConfig.Minimum == 0 {
		soaConfig.Minimum = 3600
	}

	mname, err := codec.NameFromText(soaConfig.MName)
	if err != nil {
		return fmt.Errorf("invalid SOA mname %q: %w", soaConfig.MName, err)
	}
	rname, err := codec.NameFromText(soaConfig.RName)
	if err != nil {
		return fmt.Errorf("invalid SOA rname %q: %w", soaConfig.RName, err)
	}

	return apex.Insert(codec.Record{
		Name: ctxName, Type: codec.TypeSOA, Class: codec.ClassIN, TTL: soaConfig.Minimum,
		Data: codec.RDataSOA{
			MName: mname, RName: rname,
			Serial: soaConfig.Serial, Refresh: soaConfig.Refresh, Retry: soaConfig.Retry,
			Expire: soaConfig.Expire, Minimum: soaConfig.Minimum,
		},
	})
}

func buildACL(zc config.ZoneConfig, ctxName codec.Name) (*acl.ACL, error) {
	if len(zc.ACLRule.Allow) > 0 || len(zc.ACLRule.Deny) > 0 {
		a, err := acl.FromRules(zc.ACLRule.Allow, zc.ACLRule.Deny, ctxName)
		if err != nil {
			return nil, fmt.Errorf("inline ACL: %w", err)
		}
		return a, nil
	}
	if zc.ACL != "" {
		a, err := acl.LoadACL(zc.ACL, ctxName)
		if err != nil {
			return nil, fmt.Errorf("ACL file: %w", err)
		}
		return a, nil
	}
	return nil, nil
}

func (s *Server) loadZones(cfg *config.Config) error {
	newZones := make(map[string]*managedZone)
	var failedZones []string

	for _, zc := range cfg.Zones {
		log.Printf("loading zone %s (type=%s, files=%v)", zc.Name, zc.Type, zc.Files)

		mz, err := buildZone(zc)
		if err != nil {
			log.Printf("ERROR: failed to load zone %s: %v", zc.Name, err)
			failedZones = append(failedZones, zc.Name)
			continue
		}
		newZones[zc.Name] = mz
	}

	s.zonesMu.Lock()
	oldZones := s.zones
	s.zones = newZones
	s.zonesMu.Unlock()

	for name, old := range oldZones {
		if _, kept := newZones[name]; !kept {
			old.zone.Close()
		}
	}

	if len(newZones) == 0 && len(cfg.Zones) > 0 && s.configPath != "" {
		return fmt.Errorf("failed to load any zones (loaded 0/%d)", len(cfg.Zones))
	}
	if len(failedZones) > 0 {
		log.Printf("warning: failed to load %d zones: %v", len(failedZones), failedZones)
	}
	return nil
}

// Reload re-reads the config file's zones and ACLs without restarting
// the listeners.
func (s *Server) Reload() error {
	cfg := s.configMgr.Get()
	return s.loadZones(cfg)
}

// handleConfigReload is called by config.ConfigManager when the config
// file changes.
func (s *Server) handleConfigReload(newCfg *config.Config, changes config.ZoneChanges) error {
	if changes.ServerChanged && s.addr != newCfg.Server.Bind {
		log.Printf("bind address changed from %s to %s (requires restart)", s.addr, newCfg.Server.Bind)
		s.addr = newCfg.Server.Bind
	}

	for _, zoneName := range changes.Removed {
		s.zonesMu.Lock()
		mz, ok := s.zones[zoneName]
		delete(s.zones, zoneName)
		s.zonesMu.Unlock()
		if ok {
			mz.zone.Close()
		}
		log.Printf("zone unloaded: %s", zoneName)
	}

	for _, zoneName := range append(changes.Added, changes.Updated...) {
		var zc *config.ZoneConfig
		for i := range newCfg.Zones {
			if newCfg.Zones[i].Name == zoneName {
				zc = &newCfg.Zones[i]
				break
			}
		}
		if zc == nil {
			log.Printf("ERROR: zone %s not found in config", zoneName)
			continue
		}

		log.Printf("loading zone %s (type=%s, files=%v)", zc.Name, zc.Type, zc.Files)
		mz, err := buildZone(*zc)
		if err != nil {
			log.Printf("ERROR: failed to load zone %s: %v (keeping existing zone)", zc.Name, err)
			continue
		}

		s.zonesMu.Lock()
		old, hadOld := s.zones[zoneName]
		s.zones[zoneName] = mz
		s.zonesMu.Unlock()
		if hadOld {
			old.zone.Close()
		}

		if contains(changes.Added, zoneName) {
			log.Printf("zone loaded: %s", zoneName)
		} else {
			log.Printf("zone reloaded: %s", zoneName)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

// ListenAndServe starts the UDP listener and, if configured, the TCP
// listener, and blocks until both stop (normally via Shutdown).
func (s *Server) ListenAndServe() error {
	g, ctx := errgroup.WithContext(s.ctx)

	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	s.udpConn = conn
	log.Printf("listening on %s (udp)", s.addr)

	g.Go(func() error {
		return s.serveUDP(ctx, conn)
	})

	if s.tcpAddr != "" {
		ln, err := net.Listen("tcp", s.tcpAddr)
		if err != nil {
			conn.Close()
			return err
		}
		s.tcpListener = ln
		log.Printf("listening on %s (tcp)", s.tcpAddr)

		g.Go(func() error {
			return s.serveTCP(ctx, ln)
		})
	}

	return g.Wait()
}

func (s *Server) serveUDP(ctx context.Context, conn *net.UDPConn) error {
	defer conn.Close()

	for !s.done.Load() {
		bufPtr := s.arena.CheckoutUDP()
		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remoteAddr, err := conn.ReadFromUDP(*bufPtr)
		if err != nil {
			s.arena.ReleaseUDP(bufPtr)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.done.Load() {
				return nil
			}
			log.Printf("read error: %v", err)
			continue
		}

		req := append([]byte(nil), (*bufPtr)[:n]...)
		s.arena.ReleaseUDP(bufPtr)

		go s.handleUDPRequest(conn, req, remoteAddr)
	}
	return nil
}

func (s *Server) handleUDPRequest(conn *net.UDPConn, data []byte, remoteAddr *net.UDPAddr) {
	startTime := time.Now()

	resp, ok := s.buildResponse(data, remoteAddr.IP)
	if !ok {
		return
	}

	respBufPtr := s.arena.CheckoutUDP()
	defer s.arena.ReleaseUDP(respBufPtr)
	w := codec.NewWriter(*respBufPtr)

	if err := resp.EncodeTruncating(w); err != nil {
		log.Printf("encode error: %v", err)
		s.metrics.RecordError("unknown", "encode_error")
		return
	}

	if _, err := conn.WriteToUDP(w.Bytes(), remoteAddr); err != nil {
		log.Printf("write error: %v", err)
		s.metrics.RecordError("unknown", "write_error")
	}

	s.metrics.RecordLatency("all", time.Since(startTime).Seconds()*1000)
}

// serveTCP accepts TCP connections and dispatches each to its own
// goroutine, identified by a per-connection session id for logging.
func (s *Server) serveTCP(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("tcp accept error: %v", err)
			continue
		}
		sessionID := uuid.New()
		go s.handleTCPConn(ctx, conn, sessionID)
	}
}

// handleTCPConn serves a pipelined stream of 2-byte-length-prefixed
// messages on one TCP connection until the peer closes it or the
// context is cancelled.
func (s *Server) handleTCPConn(ctx context.Context, conn net.Conn, sessionID uuid.UUID) {
	defer conn.Close()
	remoteIP := tcpRemoteIP(conn)

	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		var lenBuf [2]byte
		if _, err := readFull(conn, lenBuf[:]); err != nil {
			return
		}
		frameLen := int(lenBuf[0])<<8 | int(lenBuf[1])
		if frameLen == 0 || frameLen > s.maxTCPFrame {
			log.Printf("tcp session %s: oversized frame (%d bytes), closing", sessionID, frameLen)
			return
		}

		req := s.arena.Growable(frameLen)
		if _, err := readFull(conn, req); err != nil {
			return
		}

		startTime := time.Now()
		resp, ok := s.buildResponse(req, remoteIP)
		if !ok {
			continue
		}

		respBuf := s.arena.Growable(s.maxTCPFrame + 2)
		w := codec.NewWriter(respBuf[2:])
		if err := resp.EncodeTruncating(w); err != nil {
			log.Printf("tcp session %s: encode error: %v", sessionID, err)
			s.metrics.RecordError("unknown", "encode_error")
			return
		}
		out := respBuf[:2+w.Len()]
		out[0] = byte(w.Len() >> 8)
		out[1] = byte(w.Len())

		if _, err := conn.Write(out); err != nil {
			log.Printf("tcp session %s: write error: %v", sessionID, err)
			return
		}
		s.metrics.RecordLatency("all", time.Since(startTime).Seconds()*1000)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func tcpRemoteIP(conn net.Conn) net.IP {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	return addr.IP
}

// buildResponse decodes req, resolves every question against the
// matching zone, and returns the encoded-ready response message. ok is
// false when req couldn't be decoded at all, or is itself a response —
// in both cases there's nothing to reply to.
func (s *Server) buildResponse(req []byte, remoteIP net.IP) (codec.Message, bool) {
	msg, err := codec.Decode(req)
	if err != nil {
		s.metrics.RecordError("unknown", "parse_error")
		return codec.Message{}, false
	}
	if msg.Header.QR {
		return codec.Message{}, false
	}
	if !s.tolerateEDNS && msg.Header.ARCount > 0 {
		respHdr := msg.Header.Response()
		respHdr.RCode = codec.RCodeFormErr
		return codec.Message{Header: respHdr, Questions: msg.Questions}, true
	}

	respHdr := msg.Header.Response()
	rcode := codec.RCodeNoError
	var answers []codec.Record

	for _, q := range msg.Questions {
		records, zoneName, qrcode := s.resolve(remoteIP, q.Name, q.Type, q.Class)
		if qrcode != codec.RCodeNoError {
			rcode = qrcode
			break
		}
		answers = append(answers, records...)
		if zoneName != "" {
			s.metrics.RecordQuery(zoneName, q.Type)
		}
	}

	if rcode == codec.RCodeNoError && len(answers) == 0 && len(msg.Questions) > 0 {
		rcode = codec.RCodeNXDomain
	}
	respHdr.RCode = rcode

	return codec.Message{Header: respHdr, Questions: msg.Questions, Answers: answers}, true
}

// resolve finds the most specific zone covering name, enforces its ACL,
// and queries its backend. The returned zone name is "" when no zone
// covers name at all, which the caller treats as an empty, non-error
// answer (eventually NXDOMAIN once all questions are processed).
func (s *Server) resolve(remoteIP net.IP, name codec.Name, typ codec.Type, class codec.Class) (zone.RecordList, string, codec.RCode) {
	mz := s.findZone(name)
	if mz == nil {
		return nil, "", codec.RCodeNoError
	}

	if mz.acl != nil && !mz.acl.AllowQuery(remoteIP, name) {
		s.metrics.RecordError(mz.name, "acl_denied")
		return nil, mz.name, codec.RCodeRefused
	}

	records, err := mz.zone.Query(name, typ, class)
	if err != nil {
		log.Printf("query error for %s in zone %s: %v", name.String(), mz.name, err)
		s.metrics.RecordError(mz.name, "query_error")
		return nil, mz.name, codec.RCodeServFail
	}

	s.metrics.RecordResponse(mz.name, len(records) > 0)
	return records, mz.name, codec.RCodeNoError
}

// findZone returns the zone whose context is the longest match for
// name, or nil if no configured zone covers it.
func (s *Server) findZone(name codec.Name) *managedZone {
	s.zonesMu.RLock()
	defer s.zonesMu.RUnlock()

	var best *managedZone
	bestLabels := -1
	for _, mz := range s.zones {
		ctx := mz.zone.Context()
		if _, err := name.IterContext(ctx); err != nil {
			continue
		}
		if n := ctx.LabelCount(); n > bestLabels {
			best, bestLabels = mz, n
		}
	}
	return best
}

// Shutdown stops both listeners, the file and config watchers, and every
// zone, giving the metrics server up to shutdownTimeout to stop. It does
// not wait for in-flight requests to finish.
func (s *Server) Shutdown() {
	const shutdownTimeout = 5 * time.Second

	log.Println("initiating graceful shutdown (5s timeout)")

	s.done.Store(true)
	s.cancel()

	if s.udpConn != nil {
		s.udpConn.Close()
	}
	if s.tcpListener != nil {
		s.tcpListener.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil && err != context.DeadlineExceeded {
			log.Printf("metrics server shutdown error: %v", err)
		}
	}

	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
	}
	if s.configMgr != nil {
		s.configMgr.Stop()
	}

	s.zonesMu.Lock()
	for _, mz := range s.zones {
		mz.zone.Close()
	}
	s.zonesMu.Unlock()

	log.Println("shutdown complete")
}

// initFileWatcher initializes the file system watcher for zone and ACL
// files.
func (s *Server) initFileWatcher(cfg *config.Config) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	s.watcher = watcher

	filesToWatch := make(map[string]bool)
	for _, zc := range cfg.Zones {
		for _, file := range zc.Files {
			filesToWatch[file] = true
		}
		if zc.ACL != "" {
			filesToWatch[zc.ACL] = true
		}
	}

	for file := range filesToWatch {
		if err := watcher.Add(file); err != nil {
			log.Printf("warning: failed to watch file %s: %v", file, err)
		} else {
			log.Printf("watching file: %s", file)
		}
	}

	go s.watchFiles()
	return nil
}

func (s *Server) watchFiles() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				log.Printf("detected file change: %s (op: %v)", event.Name, event.Op)
				s.scheduleReload()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("file watcher error: %v", err)
		}
	}
}

func (s *Server) scheduleReload() {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
	}

	s.reloadTimer = time.AfterFunc(s.reloadDebounce, func() {
		log.Printf("reloading zones due to file changes")
		startTime := time.Now()

		if err := s.Reload(); err != nil {
			log.Printf("failed to reload zones: %v", err)
		} else {
			log.Printf("zones reloaded successfully in %v", time.Since(startTime))
		}
	})
}
