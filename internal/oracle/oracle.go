// Package oracle asks an LLM for an advisory second opinion on tracker
// firings whose header payloads look identifying, and runs the heavier
// per-domain policy comparison. Verdicts are cached; policy comparisons are
// rate limited per domain. The engine's own decision table never waits on
// either path.
package oracle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shortontech/consentry/internal/engine"
	"github.com/shortontech/consentry/internal/metrics"
	"github.com/shortontech/consentry/internal/store"
)

// Verdict is the oracle's opinion on one firing.
type Verdict struct {
	Violates bool   `json:"violates"`
	Severity string `json:"severity,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Ledger is the slice of the engine the oracle writes back to.
type Ledger interface {
	ApplyVerdict(contextID int64, requestID string, violates bool, severity, reason string)
	SetAnalysis(contextID int64, status, message string) bool
	FiringsSince(contextID, since int64) []engine.TrackerFiring
}

// Config holds the LLM endpoint parameters.
type Config struct {
	URL           string
	APIKey        string
	Model         string
	MaxTokens     int
	Timeout       time.Duration
	CacheSize     int           // verdict memo entries, default 500
	DomainWindow  time.Duration // min spacing between policy analyses per domain, default 24h
	AnalysisDelay time.Duration // settle time before policy comparison, default 30s
}

const verdictSystemPrompt = `You are a privacy compliance reviewer. You receive a summary of a web page's consent state and one outbound third-party request with its header fingerprint. Decide whether the request transmits identifying data in a way that contradicts the consent state.

Valid severity levels: low, medium, high, critical

Return ONLY valid JSON, no markdown fences, no commentary:
{"violates":<bool>,"severity":"<level>","reason":"<one sentence>"}

If the request looks benign or the consent state permits it, return: {"violates":false}`

// Oracle dispatches advisory verdict requests and the one-shot policy
// comparison. Safe for concurrent use.
type Oracle struct {
	cfg     Config
	client  *http.Client
	ledger  Ledger
	fetcher PolicyFetcher
	kv      store.KV
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() int64
	sleep   func(time.Duration)

	mu     sync.Mutex
	cache  *verdictCache
	limits map[string]int64 // domain identity -> last successful policy analysis, unix millis
}

// Options are the oracle's collaborators beyond the endpoint config.
type Options struct {
	Ledger  Ledger
	Fetcher PolicyFetcher // nil gets the HTTP policy fetcher
	KV      store.KV
	Log     zerolog.Logger
	Metrics *metrics.Metrics
	Now     func() int64
	Sleep   func(time.Duration)
}

func New(cfg Config, opts Options) *Oracle {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	if cfg.DomainWindow <= 0 {
		cfg.DomainWindow = 24 * time.Hour
	}
	if cfg.AnalysisDelay <= 0 {
		cfg.AnalysisDelay = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() int64 { return time.Now().UnixMilli() }
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &httpPolicyFetcher{client: &http.Client{Timeout: cfg.Timeout}}
	}
	return &Oracle{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		ledger:  opts.Ledger,
		fetcher: opts.Fetcher,
		kv:      opts.KV,
		log:     opts.Log,
		metrics: opts.Metrics,
		now:     opts.Now,
		sleep:   opts.Sleep,
		cache:   newVerdictCache(cfg.CacheSize),
		limits:  make(map[string]int64),
	}
}

// Load restores the verdict memo and rate-limit clocks.
func (o *Oracle) Load() error {
	if o.kv == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if raw, ok, err := o.kv.Get(store.KeyOracleCache); err != nil {
		return err
	} else if ok {
		var snap cacheSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			o.log.Warn().Err(err).Msg("oracle: discarding unreadable verdict cache")
		} else {
			o.cache.restore(snap)
		}
	}
	if raw, ok, err := o.kv.Get(store.KeyRateLimits); err != nil {
		return err
	} else if ok {
		limits := make(map[string]int64)
		if err := json.Unmarshal(raw, &limits); err != nil {
			o.log.Warn().Err(err).Msg("oracle: discarding unreadable rate limits")
		} else {
			o.limits = limits
		}
	}
	return nil
}

// Dispatch is called by the engine, under its store lock, when header data
// arrives for a firing. It must return immediately: cache and rate-limit
// checks happen inline, the LLM round trip on its own goroutine.
func (o *Oracle) Dispatch(contextID int64, pageURL string, consent engine.ConsentState, firing engine.TrackerFiring) {
	consentSummary := summarizeConsent(consent)
	requestSummary := summarizeFiring(firing)
	key := cacheKey(consentSummary, requestSummary)

	o.mu.Lock()
	if v, ok := o.cache.get(key); ok {
		o.mu.Unlock()
		o.metrics.IncOracle("hit")
		// ApplyVerdict reacquires the engine lock; never inline from here.
		go o.ledger.ApplyVerdict(contextID, firing.RequestID, v.Violates, v.Severity, v.Reason)
		return
	}
	o.mu.Unlock()

	o.metrics.IncOracle("miss")
	go o.consult(contextID, firing.RequestID, key, consentSummary, requestSummary)
}

func (o *Oracle) consult(contextID int64, requestID, key, consentSummary, requestSummary string) {
	prompt := fmt.Sprintf("Consent state:\n%s\n\nRequest:\n%s", consentSummary, requestSummary)
	raw, err := o.complete(verdictSystemPrompt, prompt)
	if err != nil {
		o.metrics.IncOracle("error")
		o.log.Warn().Err(err).Int64("context", contextID).Msg("oracle: verdict request failed")
		return
	}
	var v Verdict
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &v); err != nil {
		o.metrics.IncOracle("error")
		o.log.Warn().Err(err).Str("raw", truncate(raw, 200)).Msg("oracle: unparseable verdict")
		return
	}

	o.mu.Lock()
	o.cache.put(key, v)
	o.persistCacheLocked()
	o.mu.Unlock()

	o.ledger.ApplyVerdict(contextID, requestID, v.Violates, v.Severity, v.Reason)
}

// complete performs one chat completion round trip and returns the raw
// message content.
func (o *Oracle) complete(system, user string) (string, error) {
	messages := []map[string]string{
		{"role": "system", "content": system},
		{"role": "user", "content": user},
	}
	body, _ := json.Marshal(map[string]interface{}{
		"model":       o.cfg.Model,
		"messages":    messages,
		"max_tokens":  o.cfg.MaxTokens,
		"temperature": 0,
	})

	req, err := http.NewRequest("POST", o.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("oracle request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("oracle HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return "", fmt.Errorf("empty oracle response")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func (o *Oracle) persistCacheLocked() {
	if o.kv == nil {
		return
	}
	raw, err := json.Marshal(o.cache.snapshot())
	if err != nil {
		o.log.Error().Err(err).Msg("oracle: marshal cache")
		return
	}
	if err := o.kv.Set(store.KeyOracleCache, raw); err != nil {
		o.log.Error().Err(err).Msg("oracle: persist cache")
	}
}

func (o *Oracle) persistLimitsLocked() {
	if o.kv == nil {
		return
	}
	raw, err := json.Marshal(o.limits)
	if err != nil {
		o.log.Error().Err(err).Msg("oracle: marshal rate limits")
		return
	}
	if err := o.kv.Set(store.KeyRateLimits, raw); err != nil {
		o.log.Error().Err(err).Msg("oracle: persist rate limits")
	}
}

// cacheKey hashes the two summaries so equivalent situations share one
// verdict no matter which page produced them.
func cacheKey(consentSummary, requestSummary string) string {
	sum := sha256.Sum256([]byte(consentSummary + "|" + requestSummary))
	return hex.EncodeToString(sum[:])
}

func summarizeConsent(c engine.ConsentState) string {
	var b strings.Builder
	if !c.Detected {
		b.WriteString("no consent banner detected")
	} else {
		fmt.Fprintf(&b, "banner detected (platform=%s", orUnknown(c.Platform))
		if c.Inferred {
			b.WriteString(", inferred from cookies")
		}
		b.WriteString(")")
		if c.UserAction != "" {
			fmt.Fprintf(&b, ", user %s", c.UserAction)
		} else {
			b.WriteString(", no user action yet")
		}
	}
	return b.String()
}

func summarizeFiring(f engine.TrackerFiring) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s to %s (tracker=%s category=%s severity=%s)",
		f.Method, f.ResourceType, f.Domain, f.TrackerName, f.Category, f.Severity)
	if f.Headers != nil {
		h := f.Headers
		fmt.Fprintf(&b, "\nheaders: %d total", h.HeaderCount)
		if len(h.HeaderNames) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(h.HeaderNames, " "))
		}
		if len(h.CookieNames) > 0 {
			names := append([]string(nil), h.CookieNames...)
			sort.Strings(names)
			fmt.Fprintf(&b, "\ncookies: %s", strings.Join(names, " "))
		}
		if len(h.ConsentCookies) > 0 {
			fmt.Fprintf(&b, "\nconsent cookies present: %s", strings.Join(h.ConsentCookies, " "))
		}
		if h.IDCookieCount > 0 {
			fmt.Fprintf(&b, "\nidentifier-shaped cookie values: %d", h.IDCookieCount)
		}
	}
	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// cleanJSON strips markdown fences and surrounding whitespace.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
