// Package engine correlates navigation, consent and request observations
// into per-page violation ledgers, bounded by a retention policy.
package engine

import (
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortontech/consentry/internal/domain"
	"github.com/shortontech/consentry/internal/event"
	"github.com/shortontech/consentry/internal/event/headerscan"
	"github.com/shortontech/consentry/internal/metrics"
	"github.com/shortontech/consentry/internal/store"
	"github.com/shortontech/consentry/internal/tracker"
)

// Record is what sinks receive for every appended violation.
type Record struct {
	ContextID int64           `json:"context_id"`
	PageURL   string          `json:"page_url"`
	Domain    string          `json:"domain"`
	Violation ViolationRecord `json:"violation"`
}

// Dispatcher receives a firing whose header data just arrived, exactly once
// per firing. Dispatch must not block; implementations hand off to their own
// goroutine and merge results back through ApplyVerdict.
type Dispatcher interface {
	Dispatch(contextID int64, pageURL string, consent ConsentState, firing TrackerFiring)
}

// Config wires the ledger's collaborators.
type Config struct {
	Trackers   *tracker.Database
	KV         store.KV
	Log        zerolog.Logger
	Metrics    *metrics.Metrics
	Emit       func(Record) // sink fan-out, may be nil
	Dispatcher Dispatcher   // advisory oracle, may be nil
	Now        func() int64 // unix millis, defaults to wall clock
}

// Ledger is the set of all tracked pages plus the process settings. All
// mutation is serialized through one mutex: each observation, verdict merge
// or sweep runs to completion before the next is applied, which is the
// whole concurrency model.
type Ledger struct {
	mu       sync.Mutex
	settings Settings
	pages    map[int64]*PageEntry

	trackers   *tracker.Database
	kv         store.KV
	log        zerolog.Logger
	metrics    *metrics.Metrics
	emit       func(Record)
	dispatcher Dispatcher
	now        func() int64
}

// New builds a ledger with default settings; call Load to pick up persisted
// state.
func New(cfg Config) *Ledger {
	if cfg.Trackers == nil {
		cfg.Trackers = tracker.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Ledger{
		settings:   DefaultSettings(),
		pages:      make(map[int64]*PageEntry),
		trackers:   cfg.Trackers,
		kv:         cfg.KV,
		log:        cfg.Log,
		metrics:    cfg.Metrics,
		emit:       cfg.Emit,
		dispatcher: cfg.Dispatcher,
		now:        cfg.Now,
	}
}

// SetDispatcher installs the advisory oracle after construction (the oracle
// needs the ledger to merge verdicts, so wiring is two-phase).
func (l *Ledger) SetDispatcher(d Dispatcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dispatcher = d
}

// Load restores settings and page entries from the durable store.
func (l *Ledger) Load() error {
	if l.kv == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if raw, ok, err := l.kv.Get(store.KeySettings); err != nil {
		return err
	} else if ok {
		s := DefaultSettings()
		if err := json.Unmarshal(raw, &s); err != nil {
			l.log.Warn().Err(err).Msg("engine: discarding unreadable settings blob")
		} else {
			l.settings = s
		}
	}

	// A stored custom tracker database overrides the embedded default.
	if raw, ok, err := l.kv.Get(store.KeyTrackerDB); err != nil {
		return err
	} else if ok {
		db, err := tracker.Parse(raw)
		if err != nil {
			l.log.Warn().Err(err).Msg("engine: ignoring unreadable custom tracker database")
		} else {
			l.trackers = db
			l.log.Info().Int("entries", db.Len()).Msg("using custom tracker database")
		}
	}

	entries, err := l.kv.Scan(store.PrefixPage)
	if err != nil {
		return err
	}
	for key, raw := range entries {
		var p PageEntry
		if err := json.Unmarshal(raw, &p); err != nil {
			l.log.Warn().Str("key", key).Err(err).Msg("engine: dropping unreadable page entry")
			continue
		}
		l.pages[p.ContextID] = &p
	}
	l.metrics.SetPagesTracked(len(l.pages))
	return nil
}

// Apply routes one observation. Invalid observations are dropped with a log
// line; nothing in this path returns an error to the reporter.
func (l *Ledger) Apply(o event.Observation) {
	if err := o.Validate(); err != nil {
		l.log.Debug().Err(err).Msg("engine: dropping observation")
		return
	}
	ts := o.TS
	if ts == 0 {
		ts = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics.IncObservation(string(o.Type))

	switch o.Type {
	case event.NavigationStart:
		l.applyNavigationStart(o, ts)
	case event.NavigationComplete:
		l.applyNavigationComplete(o, ts)
	case event.ConsentObserved:
		l.applyConsent(o, ts)
	case event.RequestObserved:
		l.applyRequest(o, ts)
	case event.RequestHeaders:
		l.applyHeaders(o, ts)
	}
}

// ensure returns the page entry for a context, creating a fresh one if
// needed.
func (l *Ledger) ensure(contextID, ts int64) *PageEntry {
	p, ok := l.pages[contextID]
	if !ok {
		p = &PageEntry{
			ContextID:    contextID,
			PageLoadTime: ts,
			LastSeen:     ts,
		}
		l.pages[contextID] = p
		l.metrics.SetPagesTracked(len(l.pages))
	}
	return p
}

// applyNavigationStart resets the page for a new document: consent state,
// firings and violations are cleared before any event for the new navigation
// is processed. In-flight oracle calls for the old navigation will merge into
// the cleared entry; that staleness is accepted.
func (l *Ledger) applyNavigationStart(o event.Observation, ts int64) {
	p := l.ensure(o.ContextID, ts)
	p.URL = o.URL
	p.PageLoadTime = ts
	p.LastSeen = ts
	p.Consent.Reset()
	p.Firings = nil
	p.Violations = nil
	p.Analysis = nil
	l.persistPage(p)
}

// applyNavigationComplete refines the URL and load timestamp reported by the
// in-page collector; it never clears accumulated state.
func (l *Ledger) applyNavigationComplete(o event.Observation, ts int64) {
	p := l.ensure(o.ContextID, ts)
	if o.URL != "" {
		p.URL = o.URL
	}
	if o.TS != 0 {
		p.PageLoadTime = o.TS
	}
	p.LastSeen = ts
	l.persistPage(p)
}

func (l *Ledger) applyConsent(o event.Observation, ts int64) {
	p := l.ensure(o.ContextID, ts)
	if o.Detected {
		p.Consent.OnDetected(o.Platform, ts, o.Inferred)
	}
	if o.UserAction != "" {
		p.Consent.OnUserAction(o.UserAction, ts)
	}
	p.LastSeen = ts
	l.persistPage(p)
}

// applyRequest runs the violation table for one outbound request. Requests
// filtered by the gates (disabled, unknown page URL, first-party,
// allow-listed) leave no trace at all.
func (l *Ledger) applyRequest(o event.Observation, ts int64) {
	st := l.settings
	if !st.GlobalEnabled {
		return
	}
	p := l.ensure(o.ContextID, ts)
	p.LastSeen = ts

	if p.URL == "" || !domain.ThirdParty(o.URL, p.URL) {
		return
	}
	if domain.Allowlisted(o.URL, st.Allowlist) {
		return
	}

	match := l.trackers.Classify(o.URL)
	firing := &TrackerFiring{
		Domain:       hostOf(o.URL),
		URL:          o.URL,
		FiredAt:      ts,
		Method:       o.Method,
		ResourceType: o.ResourceType,
		RequestID:    o.RequestID,
		TrackerName:  "unknown",
		Category:     "unknown",
		Severity:     "medium",
	}
	matchSeverity := ""
	if match != nil {
		firing.TrackerName = match.Name
		firing.Category = match.Category
		firing.Severity = match.Severity
		matchSeverity = match.Severity
	}

	if dec := Decide(p.Consent, st.BannerPolicy, matchSeverity, ts, p.PageLoadTime); dec != nil {
		firing.Violation = dec.Kind
		if dec.Record {
			delta := dec.TimeDelta
			firing.TimeDeltaMS = &delta
			l.appendViolation(p, ViolationRecord{
				Type:      dec.Kind,
				Severity:  dec.Severity,
				Tracker:   firing.TrackerName,
				Details:   dec.Details,
				Timestamp: ts,
			})
		}
	}

	p.Firings = append(p.Firings, firing)
	l.persistPage(p)
}

// applyHeaders amends the correlated firing in place with the observed
// header summary and, at most once per firing, hands it to the advisory
// oracle.
func (l *Ledger) applyHeaders(o event.Observation, ts int64) {
	p, ok := l.pages[o.ContextID]
	if !ok {
		return
	}
	f := p.findFiring(o.RequestID)
	if f == nil {
		return
	}
	sum := headerscan.Analyze(o.Headers)
	f.Headers = &sum
	p.LastSeen = ts

	if l.settings.OracleEnabled && l.dispatcher != nil && !f.OracleDispatched {
		f.OracleDispatched = true
		l.dispatcher.Dispatch(p.ContextID, p.URL, p.Consent, *f)
	}
	l.persistPage(p)
}

// appendViolation adds a ledger entry and fans it out.
func (l *Ledger) appendViolation(p *PageEntry, v ViolationRecord) {
	p.Violations = append(p.Violations, v)
	l.metrics.IncViolation(v.Type)
	l.log.Info().
		Int64("context", p.ContextID).
		Str("kind", v.Type).
		Str("tracker", v.Tracker).
		Str("severity", v.Severity).
		Msg("violation recorded")
	if l.emit != nil {
		l.emit(Record{
			ContextID: p.ContextID,
			PageURL:   p.URL,
			Domain:    domain.FromURL(p.URL),
			Violation: v,
		})
	}
}

// ApplyVerdict merges an advisory oracle verdict for a firing. A verdict
// arriving after navigation reset or eviction is dropped; a non-violating
// verdict is a no-op.
func (l *Ledger) ApplyVerdict(contextID int64, requestID string, violates bool, severity, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.pages[contextID]
	if !ok {
		return
	}
	if !violates {
		return
	}
	if severity == "" {
		severity = "medium"
	}
	trackerName := "unknown"
	if f := p.findFiring(requestID); f != nil {
		trackerName = f.TrackerName
	}
	l.appendViolation(p, ViolationRecord{
		Type:      ViolationOracle,
		Severity:  severity,
		Tracker:   trackerName,
		Details:   reason,
		Timestamp: l.now(),
	})
	l.persistPage(p)
}

// Settings returns a consistent snapshot.
func (l *Ledger) Settings() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.settings
	s.Allowlist = append([]string(nil), s.Allowlist...)
	return s
}

// UpdateSettings applies a partial update and persists the result.
func (l *Ledger) UpdateSettings(p SettingsPatch) Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings = l.settings.apply(p)
	l.persistSettings()
	s := l.settings
	s.Allowlist = append([]string(nil), s.Allowlist...)
	return s
}

// State returns the settings snapshot plus a deep copy of one page entry and
// its badge rollup.
func (l *Ledger) State(contextID int64) (Settings, *PageEntry, Badge, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.settings
	s.Allowlist = append([]string(nil), s.Allowlist...)
	p, ok := l.pages[contextID]
	if !ok {
		return s, nil, badgeFor(s.GlobalEnabled, 0), false
	}
	return s, p.clone(), badgeFor(s.GlobalEnabled, len(p.Violations)), true
}

// Page returns a deep copy of one page entry.
func (l *Ledger) Page(contextID int64) (*PageEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pages[contextID]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// Clear hard-deletes one page entry.
func (l *Ledger) Clear(contextID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.pages[contextID]; !ok {
		return false
	}
	delete(l.pages, contextID)
	l.deletePage(contextID)
	l.metrics.SetPagesTracked(len(l.pages))
	return true
}

// SetAnalysis records the policy-analysis status on a page.
func (l *Ledger) SetAnalysis(contextID int64, status, message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pages[contextID]
	if !ok {
		return false
	}
	// A new running status marks a fresh request; done/error keep the
	// timestamp of the run they conclude.
	requestedAt := l.now()
	if status != AnalysisRunning && p.Analysis != nil {
		requestedAt = p.Analysis.RequestedAt
	}
	p.Analysis = &AnalysisStatus{Status: status, Message: message, RequestedAt: requestedAt}
	l.persistPage(p)
	return true
}

// FiringsSince returns copies of a page's firings at or after the given
// timestamp, for the policy-comparison flow.
func (l *Ledger) FiringsSince(contextID, since int64) []TrackerFiring {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.pages[contextID]
	if !ok {
		return nil
	}
	var out []TrackerFiring
	for _, f := range p.Firings {
		if f.FiredAt >= since {
			out = append(out, *f)
		}
	}
	return out
}

// Sweep prunes aged records and enforces the per-domain page cap. Records
// older than the retention window are dropped from every page; then, within
// each resolved domain identity, only the most recently active
// maxPagesPerDomain entries survive. Eviction is a hard delete.
func (l *Ledger) Sweep(now int64) {
	start := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.settings
	cutoff := now - int64(st.RetentionDays)*24*60*60*1000

	buckets := make(map[string][]*PageEntry)
	for _, p := range l.pages {
		p.Firings = pruneFirings(p.Firings, cutoff)
		p.Violations = pruneViolations(p.Violations, cutoff)
		if p.URL != "" {
			// Pages without a resolvable identity never compete for a
			// domain's slots.
			if d := domain.FromURL(p.URL); d != "" {
				buckets[d] = append(buckets[d], p)
			}
		}
	}

	maxPages := st.MaxPagesPerDomain
	if maxPages <= 0 {
		maxPages = 50
	}
	evicted := 0
	for _, group := range buckets {
		if len(group) <= maxPages {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].LastSeen > group[j].LastSeen })
		for _, drop := range group[maxPages:] {
			delete(l.pages, drop.ContextID)
			l.deletePage(drop.ContextID)
			evicted++
		}
	}

	for _, p := range l.pages {
		l.persistPage(p)
	}
	l.metrics.AddEvictedPages(evicted)
	l.metrics.SetPagesTracked(len(l.pages))
	l.metrics.ObserveSweepDuration(time.Since(start))
	l.log.Debug().Int("pages", len(l.pages)).Int("evicted", evicted).Msg("retention sweep")
}

// PageCount reports the number of tracked pages.
func (l *Ledger) PageCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pages)
}

func pruneFirings(in []*TrackerFiring, cutoff int64) []*TrackerFiring {
	out := in[:0]
	for _, f := range in {
		if f.FiredAt >= cutoff {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func pruneViolations(in []ViolationRecord, cutoff int64) []ViolationRecord {
	out := in[:0]
	for _, v := range in {
		if v.Timestamp >= cutoff {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// --- persistence (best effort: a failed write never fails the event) ---

func pageKey(contextID int64) string {
	return store.PrefixPage + strconv.FormatInt(contextID, 10)
}

func (l *Ledger) persistPage(p *PageEntry) {
	if l.kv == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		l.log.Error().Err(err).Int64("context", p.ContextID).Msg("engine: marshal page")
		return
	}
	if err := l.kv.Set(pageKey(p.ContextID), raw); err != nil {
		l.log.Error().Err(err).Int64("context", p.ContextID).Msg("engine: persist page")
	}
}

func (l *Ledger) deletePage(contextID int64) {
	if l.kv == nil {
		return
	}
	if err := l.kv.Delete(pageKey(contextID)); err != nil {
		l.log.Error().Err(err).Int64("context", contextID).Msg("engine: delete page")
	}
}

func (l *Ledger) persistSettings() {
	if l.kv == nil {
		return
	}
	raw, err := json.Marshal(l.settings)
	if err != nil {
		l.log.Error().Err(err).Msg("engine: marshal settings")
		return
	}
	if err := l.kv.Set(store.KeySettings, raw); err != nil {
		l.log.Error().Err(err).Msg("engine: persist settings")
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
