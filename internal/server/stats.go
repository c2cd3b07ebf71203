package server

import "sync/atomic"

// DNSStats collects forwarder-wide counters for the admin status
// surface. All methods are safe for concurrent use.
type DNSStats struct {
	queriesTotal atomic.Uint64
	queriesUDP   atomic.Uint64
	queriesTCP   atomic.Uint64

	probesEmitted    atomic.Uint64
	classifiedClean  atomic.Uint64
	classifiedBlocked atomic.Uint64
	cacheHits        atomic.Uint64

	queriesDroppedFull  atomic.Uint64
	queriesDroppedParse atomic.Uint64
	upstreamErrors      atomic.Uint64
}

// NewDNSStats creates a new, zeroed statistics collector.
func NewDNSStats() *DNSStats { return &DNSStats{} }

// RecordQuery records an accepted client query on the given transport.
func (s *DNSStats) RecordQuery(transport string) {
	s.queriesTotal.Add(1)
	switch transport {
	case "udp":
		s.queriesUDP.Add(1)
	case "tcp":
		s.queriesTCP.Add(1)
	}
}

// RecordProbe records a probe query emitted on a cache miss.
func (s *DNSStats) RecordProbe() { s.probesEmitted.Add(1) }

// RecordClassification records a verdict newly written to the cache.
func (s *DNSStats) RecordClassification(blocked bool) {
	if blocked {
		s.classifiedBlocked.Add(1)
	} else {
		s.classifiedClean.Add(1)
	}
}

// RecordCacheHit records a query resolved from an existing verdict
// without a probe.
func (s *DNSStats) RecordCacheHit() { s.cacheHits.Add(1) }

// RecordDroppedFull records a query dropped because the query table was
// at capacity.
func (s *DNSStats) RecordDroppedFull() { s.queriesDroppedFull.Add(1) }

// RecordDroppedParse records a query or reply dropped for failing to
// parse.
func (s *DNSStats) RecordDroppedParse() { s.queriesDroppedParse.Add(1) }

// RecordUpstreamError records a transient I/O failure on an upstream
// leg.
func (s *DNSStats) RecordUpstreamError() { s.upstreamErrors.Add(1) }

// DNSStatsSnapshot is a point-in-time copy of DNSStats, for JSON
// serialization on the admin surface.
type DNSStatsSnapshot struct {
	QueriesTotal uint64 `json:"queries_total"`
	QueriesUDP   uint64 `json:"queries_udp"`
	QueriesTCP   uint64 `json:"queries_tcp"`

	ProbesEmitted     uint64 `json:"probes_emitted"`
	ClassifiedClean   uint64 `json:"classified_clean"`
	ClassifiedBlocked uint64 `json:"classified_blocked"`
	CacheHits         uint64 `json:"cache_hits"`

	QueriesDroppedFull  uint64 `json:"queries_dropped_full"`
	QueriesDroppedParse uint64 `json:"queries_dropped_parse"`
	UpstreamErrors      uint64 `json:"upstream_errors"`
}

// Snapshot returns the current counters.
func (s *DNSStats) Snapshot() DNSStatsSnapshot {
	return DNSStatsSnapshot{
		QueriesTotal:        s.queriesTotal.Load(),
		QueriesUDP:          s.queriesUDP.Load(),
		QueriesTCP:          s.queriesTCP.Load(),
		ProbesEmitted:       s.probesEmitted.Load(),
		ClassifiedClean:     s.classifiedClean.Load(),
		ClassifiedBlocked:   s.classifiedBlocked.Load(),
		CacheHits:           s.cacheHits.Load(),
		QueriesDroppedFull:  s.queriesDroppedFull.Load(),
		QueriesDroppedParse: s.queriesDroppedParse.Load(),
		UpstreamErrors:      s.upstreamErrors.Load(),
	}
}
