package engine

// Banner policy modes.
const (
	PolicyAlways = "always"
	PolicyEUCA   = "eu_ca"
	PolicyOff    = "off"
)

// Settings is the process-wide classification configuration. Every decision
// reads a snapshot taken under the store lock, so a single violation decision
// never sees a half-applied update.
type Settings struct {
	GlobalEnabled     bool     `json:"globalEnabled"`
	BannerPolicy      string   `json:"bannerPolicy"` // always | eu_ca | off
	RetentionDays     int      `json:"retentionDays"`
	MaxPagesPerDomain int      `json:"maxPagesPerDomain"`
	Allowlist         []string `json:"allowlist"`
	OracleEnabled     bool     `json:"oracleEnabled"`
}

// DefaultAllowlist contains first-party-equivalent infrastructure domains
// that are never treated as tracker firings.
var DefaultAllowlist = []string{
	"cdnjs.cloudflare.com",
	"cdn.jsdelivr.net",
	"fonts.googleapis.com",
	"fonts.gstatic.com",
	"stripe.com",
	"paypal.com",
}

// DefaultSettings mirrors the shipped configuration.
func DefaultSettings() Settings {
	return Settings{
		GlobalEnabled:     true,
		BannerPolicy:      PolicyEUCA,
		RetentionDays:     7,
		MaxPagesPerDomain: 50,
		Allowlist:         append([]string(nil), DefaultAllowlist...),
	}
}

// SettingsPatch is a partial settings update; nil fields leave the current
// value intact.
type SettingsPatch struct {
	GlobalEnabled     *bool     `json:"globalEnabled,omitempty"`
	BannerPolicy      *string   `json:"bannerPolicy,omitempty"`
	RetentionDays     *int      `json:"retentionDays,omitempty"`
	MaxPagesPerDomain *int      `json:"maxPagesPerDomain,omitempty"`
	Allowlist         *[]string `json:"allowlist,omitempty"`
	OracleEnabled     *bool     `json:"oracleEnabled,omitempty"`
}

func (s Settings) apply(p SettingsPatch) Settings {
	if p.GlobalEnabled != nil {
		s.GlobalEnabled = *p.GlobalEnabled
	}
	if p.BannerPolicy != nil {
		s.BannerPolicy = *p.BannerPolicy
	}
	if p.RetentionDays != nil {
		s.RetentionDays = *p.RetentionDays
	}
	if p.MaxPagesPerDomain != nil {
		s.MaxPagesPerDomain = *p.MaxPagesPerDomain
	}
	if p.Allowlist != nil {
		s.Allowlist = append([]string(nil), (*p.Allowlist)...)
	}
	if p.OracleEnabled != nil {
		s.OracleEnabled = *p.OracleEnabled
	}
	return s
}
