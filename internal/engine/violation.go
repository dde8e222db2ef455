package engine

// Decision is the outcome of the violation table for one firing.
type Decision struct {
	Kind      string
	Severity  string
	TimeDelta int64
	Record    bool // append a ViolationRecord; false = soft flag only
	Details   string
}

// Decide evaluates the violation table for a classified third-party firing.
// It is a pure function of the consent snapshot, the banner policy and the
// tracker severity; gating (enabled, known URL, third-party, allow-list) has
// already happened. Returns nil when no branch applies.
//
// Branch priority, first match wins:
//
//	no banner + policy always  -> NO_BANNER_FOUND (recorded)
//	no banner + policy eu_ca   -> NO_BANNER_FOUND_POLICY (flag only; no
//	                              geolocation evidence, so no hard fail)
//	no banner + policy off     -> none
//	banner, no user action     -> FIRED_PRE_CONSENT (recorded)
//	banner, user rejected      -> REJECTION_IGNORED (recorded)
//	banner, user accepted      -> none
func Decide(consent ConsentState, policy, trackerSeverity string, firedAt, pageLoadTime int64) *Decision {
	severity := trackerSeverity
	if severity == "" {
		severity = "medium"
	}

	if !consent.Detected {
		switch policy {
		case PolicyAlways:
			return &Decision{
				Kind:      ViolationNoBanner,
				Severity:  severity,
				TimeDelta: firedAt - pageLoadTime,
				Record:    true,
				Details:   "Tracker fired but no consent banner detected",
			}
		case PolicyEUCA:
			return &Decision{
				Kind:     ViolationNoBannerPolicy,
				Severity: severity,
			}
		default:
			return nil
		}
	}

	switch consent.UserAction {
	case "":
		ref := consent.DetectedAt
		if ref == 0 {
			ref = pageLoadTime
		}
		return &Decision{
			Kind:      ViolationPreConsent,
			Severity:  severity,
			TimeDelta: firedAt - ref,
			Record:    true,
			Details:   "Fired before consent interaction",
		}
	case "rejected":
		ref := consent.ActionAt
		if ref == 0 {
			ref = pageLoadTime
		}
		return &Decision{
			Kind:      ViolationRejectIgnored,
			Severity:  severity,
			TimeDelta: firedAt - ref,
			Record:    true,
			Details:   "Tracker fired after reject",
		}
	default: // accepted
		return nil
	}
}
