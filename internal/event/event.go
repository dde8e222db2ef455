package event

// Observation kinds reported by the external collectors (navigation hooks,
// consent banner observer, request listener).
type Type string

const (
	NavigationStart    Type = "navigation_start"
	NavigationComplete Type = "navigation_complete"
	ConsentObserved    Type = "consent_observed"
	RequestObserved    Type = "request_observed"
	RequestHeaders     Type = "request_headers"
)

// Header is a single observed request header. Optional fields are omitted
// when empty.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Observation is the inbound envelope. One flat shape for all kinds; which
// fields are meaningful depends on Type.
type Observation struct {
	Type      Type  `json:"type"`
	ContextID int64 `json:"context_id"`
	TS        int64 `json:"ts,omitempty"` // unix millis, collector clock

	// --- navigation / request target ---
	URL string `json:"url,omitempty"`

	// --- consent signal ---
	Detected   bool   `json:"detected,omitempty"`
	Platform   string `json:"platform,omitempty"`    // OneTrust, Cookiebot, TrustArc, cookie, generic
	UserAction string `json:"user_action,omitempty"` // "" | "accepted" | "rejected"
	Inferred   bool   `json:"inferred,omitempty"`    // cookie heuristic rather than DOM

	// --- request ---
	RequestID    string   `json:"request_id,omitempty"`
	Method       string   `json:"method,omitempty"`
	ResourceType string   `json:"resource_type,omitempty"` // script, xhr, image, ...
	Headers      []Header `json:"headers,omitempty"`

	// --- server enrich ---
	Reporter string `json:"reporter,omitempty"` // set server-side, not trusted from client
}

// UserAction values.
const (
	ActionAccepted = "accepted"
	ActionRejected = "rejected"
)
