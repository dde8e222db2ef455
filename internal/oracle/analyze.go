package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shortontech/consentry/internal/domain"
)

// ErrRateLimited is returned when a domain already had a successful policy
// analysis inside the cooldown window.
var ErrRateLimited = errors.New("policy analysis already ran for this domain in the last 24 hours")

// PolicyFetcher retrieves the text of a site's privacy policy.
type PolicyFetcher interface {
	FetchPolicy(ctx context.Context, pageURL string) (string, error)
}

// httpPolicyFetcher tries the conventional policy paths on the page's origin
// and returns the first page that answers 200.
type httpPolicyFetcher struct {
	client *http.Client
}

var policyPaths = []string{"/privacy", "/privacy-policy", "/privacy_policy", "/legal/privacy"}

func (f *httpPolicyFetcher) FetchPolicy(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("unusable page url %q", pageURL)
	}
	var lastErr error
	for _, path := range policyPaths {
		target := u.Scheme + "://" + u.Host + path
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("policy fetch %s: HTTP %d", target, resp.StatusCode)
			continue
		}
		return stripTags(string(body)), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no policy page found for %s", u.Host)
	}
	return "", lastErr
}

// stripTags reduces an HTML document to its text content, crudely: enough
// signal for the comparison prompt without an HTML parser dependency.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

const analysisSystemPrompt = `You are a privacy compliance reviewer. You receive excerpts from a site's privacy policy and a list of third-party tracker requests actually observed on the site. Identify contradictions: trackers the policy does not disclose, data collection the policy denies, or consent promises the observed behavior breaks.

Return ONLY valid JSON, no markdown fences, no commentary:
{"contradictions":[{"claim":"<what the policy promises>","actual_behavior":"<what the trackers show>","severity":"low|medium|high"}],"deception_score":<0-100>}

If the policy and the observed behavior agree, return: {"contradictions":[],"deception_score":0}`

// Contradiction is one policy promise broken by observed behavior.
type Contradiction struct {
	Claim          string `json:"claim"`
	ActualBehavior string `json:"actual_behavior"`
	Severity       string `json:"severity"`
}

// AnalysisResult is the parsed policy comparison.
type AnalysisResult struct {
	Contradictions []Contradiction `json:"contradictions"`
	DeceptionScore int             `json:"deception_score"`
}

// Statuses recorded on the page entry while the comparison runs.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// AnalyzePolicy kicks off a policy-versus-behavior comparison for one page.
// One successful run per resolved domain identity per cooldown window;
// inside the window the request is refused outright with ErrRateLimited.
// Otherwise it marks the page running and returns immediately; the fetch,
// the settle delay and the LLM round trip happen on their own goroutine,
// with the outcome written back through SetAnalysis.
func (o *Oracle) AnalyzePolicy(ctx context.Context, contextID int64, pageURL string) error {
	if pageURL == "" {
		return fmt.Errorf("page has no url to analyze")
	}
	ident := domain.FromURL(pageURL)
	if ident == "" {
		return fmt.Errorf("unusable page url %q", pageURL)
	}

	o.mu.Lock()
	if last, ok := o.limits[ident]; ok && o.now()-last < o.cfg.DomainWindow.Milliseconds() {
		o.mu.Unlock()
		o.metrics.IncOracle("rate_limited")
		return fmt.Errorf("%s: %w", ident, ErrRateLimited)
	}
	o.mu.Unlock()

	if !o.ledger.SetAnalysis(contextID, StatusRunning, "") {
		return fmt.Errorf("unknown context %d", contextID)
	}
	requestedAt := o.now()
	go o.runAnalysis(ctx, contextID, pageURL, requestedAt)
	return nil
}

func (o *Oracle) runAnalysis(ctx context.Context, contextID int64, pageURL string, requestedAt int64) {
	// Let late-loading trackers fire before comparing.
	o.sleep(o.cfg.AnalysisDelay)

	policy, err := o.fetcher.FetchPolicy(ctx, pageURL)
	if err != nil {
		o.metrics.IncOracle("error")
		o.log.Warn().Err(err).Str("page", pageURL).Msg("oracle: policy fetch failed")
		o.ledger.SetAnalysis(contextID, StatusError, fmt.Sprintf("policy fetch failed: %v", err))
		return
	}
	if len(policy) > 16<<10 {
		policy = policy[:16<<10]
	}

	// The comparison covers trackers observed since the analysis was
	// requested; earlier firings belong to the rule-based ledger.
	firings := o.ledger.FiringsSince(contextID, requestedAt)
	var lines []string
	for _, f := range firings {
		lines = append(lines, summarizeFiring(f))
	}
	if len(lines) == 0 {
		lines = append(lines, "no third-party tracker requests observed")
	}

	prompt := fmt.Sprintf("Privacy policy for %s:\n%s\n\nObserved tracker requests:\n%s",
		pageURL, policy, strings.Join(lines, "\n"))
	raw, err := o.complete(analysisSystemPrompt, prompt)
	if err != nil {
		o.metrics.IncOracle("error")
		o.log.Warn().Err(err).Str("page", pageURL).Msg("oracle: policy analysis failed")
		o.ledger.SetAnalysis(contextID, StatusError, fmt.Sprintf("analysis failed: %v", err))
		return
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &result); err != nil {
		o.metrics.IncOracle("error")
		o.log.Warn().Err(err).Str("raw", truncate(raw, 200)).Msg("oracle: unparseable analysis")
		o.ledger.SetAnalysis(contextID, StatusError, "analysis response was not parseable")
		return
	}

	msg := renderAnalysis(result)
	o.ledger.SetAnalysis(contextID, StatusDone, msg)

	// Only a successful run starts the domain cooldown; failures may retry.
	o.mu.Lock()
	o.limits[domain.FromURL(pageURL)] = o.now()
	o.persistLimitsLocked()
	o.mu.Unlock()
	o.log.Info().
		Int64("context", contextID).
		Int("contradictions", len(result.Contradictions)).
		Int("deception_score", result.DeceptionScore).
		Dur("elapsed", time.Duration(o.now()-requestedAt)*time.Millisecond).
		Msg("policy analysis complete")
}

func renderAnalysis(r AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "deception score %d/100", r.DeceptionScore)
	if len(r.Contradictions) == 0 {
		b.WriteString(", no contradictions found")
		return b.String()
	}
	for _, c := range r.Contradictions {
		fmt.Fprintf(&b, "\n- [%s] %s; observed: %s", c.Severity, c.Claim, c.ActualBehavior)
	}
	return b.String()
}
