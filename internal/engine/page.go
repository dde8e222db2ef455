package engine

import "github.com/shortontech/consentry/internal/event/headerscan"

// Violation kinds, in decision priority order.
const (
	ViolationNoBanner       = "NO_BANNER_FOUND"
	ViolationNoBannerPolicy = "NO_BANNER_FOUND_POLICY"
	ViolationPreConsent     = "FIRED_PRE_CONSENT"
	ViolationRejectIgnored  = "REJECTION_IGNORED"
	ViolationOracle         = "LLM_ANALYSIS"
)

// ConsentState records what the banner observer has reported for one page
// lifetime. detectedAt is first-write-wins; userAction is last-write-wins.
type ConsentState struct {
	Platform   string `json:"platform,omitempty"`
	Detected   bool   `json:"detected"`
	DetectedAt int64  `json:"detectedAt,omitempty"`
	UserAction string `json:"userAction,omitempty"` // "" | accepted | rejected
	ActionAt   int64  `json:"actionAt,omitempty"`
	Inferred   bool   `json:"inferred,omitempty"` // cookie heuristic, not DOM
}

// OnDetected applies a banner-detection signal. First detection wins for
// platform and timestamp; the inferred flag latches on.
func (c *ConsentState) OnDetected(platform string, ts int64, inferred bool) {
	c.Detected = true
	if c.Platform == "" {
		c.Platform = platform
	}
	if c.DetectedAt == 0 {
		c.DetectedAt = ts
	}
	if inferred {
		c.Inferred = true
	}
}

// OnUserAction records the user's choice. The latest signal always wins: a
// user can change their mind and the new decision replaces the old.
func (c *ConsentState) OnUserAction(action string, ts int64) {
	c.UserAction = action
	c.ActionAt = ts
}

// Reset restores the unknown state. Called on navigation start.
func (c *ConsentState) Reset() {
	*c = ConsentState{}
}

// TrackerFiring is one qualifying third-party request. Appended once, then
// amended in place by request id when header data or an oracle verdict
// arrives later.
type TrackerFiring struct {
	Domain       string `json:"domain"`
	URL          string `json:"url"`
	FiredAt      int64  `json:"firedAt"`
	Method       string `json:"method,omitempty"`
	ResourceType string `json:"resourceType,omitempty"`
	RequestID    string `json:"requestId,omitempty"`

	TrackerName string `json:"trackerName"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`

	Violation   string `json:"violation,omitempty"` // kind, or "" when clean
	TimeDeltaMS *int64 `json:"timeDelta,omitempty"` // elapsed ms from the branch's reference timestamp

	Headers *headerscan.Summary `json:"headers,omitempty"` // attached on header arrival

	// OracleDispatched guards the at-most-once advisory consultation for this
	// firing; repeated header events must not re-trigger it.
	OracleDispatched bool `json:"oracleDispatched,omitempty"`
}

// ViolationRecord is one ledger entry. Append-only within a page lifetime;
// order is detection order (the oracle may append late).
type ViolationRecord struct {
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Tracker   string `json:"tracker"`
	Details   string `json:"details"`
	Timestamp int64  `json:"timestamp"`
}

// Analysis status values for the per-domain policy analysis flow.
const (
	AnalysisRunning = "running"
	AnalysisDone    = "done"
	AnalysisError   = "error"
)

// AnalysisStatus is the one-shot policy-analysis result attached to a page.
type AnalysisStatus struct {
	Status      string `json:"status"` // running | done | error
	Message     string `json:"message,omitempty"`
	RequestedAt int64  `json:"requestedAt"`
}

// PageEntry is the ledger for one browsing context.
type PageEntry struct {
	ContextID    int64            `json:"contextId"`
	URL          string           `json:"url"`
	PageLoadTime int64            `json:"pageLoadTime"`
	LastSeen     int64            `json:"lastSeen"`
	Consent      ConsentState     `json:"consentBanner"`
	Firings      []*TrackerFiring `json:"trackers"`
	Violations   []ViolationRecord `json:"violations"`
	Analysis     *AnalysisStatus  `json:"policyAnalysis,omitempty"`
}

// findFiring locates a firing by correlation id, newest first (ids can be
// reused across navigations on some platforms; the latest one is the live
// one).
func (p *PageEntry) findFiring(requestID string) *TrackerFiring {
	if requestID == "" {
		return nil
	}
	for i := len(p.Firings) - 1; i >= 0; i-- {
		if p.Firings[i].RequestID == requestID {
			return p.Firings[i]
		}
	}
	return nil
}

// clone produces a deep copy safe to hand out after the store lock releases.
func (p *PageEntry) clone() *PageEntry {
	cp := *p
	cp.Firings = make([]*TrackerFiring, len(p.Firings))
	for i, f := range p.Firings {
		fc := *f
		if f.TimeDeltaMS != nil {
			d := *f.TimeDeltaMS
			fc.TimeDeltaMS = &d
		}
		if f.Headers != nil {
			h := *f.Headers
			fc.Headers = &h
		}
		cp.Firings[i] = &fc
	}
	cp.Violations = append([]ViolationRecord(nil), p.Violations...)
	if p.Analysis != nil {
		a := *p.Analysis
		cp.Analysis = &a
	}
	return &cp
}

// Badge is the per-page severity rollup {ok, warn, alert, off}.
type Badge struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// badgeFor mirrors the rollup thresholds: green at zero, amber under three,
// red from three violations up.
func badgeFor(enabled bool, violations int) Badge {
	switch {
	case !enabled:
		return Badge{Status: "off", Count: violations}
	case violations == 0:
		return Badge{Status: "ok"}
	case violations < 3:
		return Badge{Status: "warn", Count: violations}
	default:
		return Badge{Status: "alert", Count: violations}
	}
}
