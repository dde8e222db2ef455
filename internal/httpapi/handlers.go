package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shortontech/consentry/internal/engine"
	"github.com/shortontech/consentry/internal/event"
	"github.com/shortontech/consentry/internal/oracle"
	cfg "github.com/shortontech/consentry/pkg/config"
)

// Analyzer kicks off the one-shot policy comparison for a page.
type Analyzer interface {
	AnalyzePolicy(ctx context.Context, contextID int64, pageURL string) error
}

type Env struct {
	Cfg      cfg.Config
	Ledger   *engine.Ledger
	Analyzer Analyzer  // nil when the oracle is not configured
	HMACAuth *HMACAuth // HMAC authentication handler
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if e.Ledger == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (e Env) HMACPublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if e.HMACAuth == nil {
		http.Error(w, "HMAC authentication not configured", http.StatusNotFound)
		return
	}

	publicKey := e.HMACAuth.GetPublicKeyBase64()
	if publicKey == "" {
		http.Error(w, "HMAC public key not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"public_key": publicKey,
		"algorithm":  "HMAC-SHA256",
		"header":     HMACHeader,
	})
}

// POST /observe accepts a single Observation object or an array of them.
func (e Env) Observe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		http.Error(w, "content-type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	defer r.Body.Close()

	// Read the body up front for HMAC verification
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	if e.HMACAuth != nil && !e.HMACAuth.VerifyHMAC(r, body) {
		http.Error(w, "invalid or missing HMAC signature", http.StatusUnauthorized)
		return
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	accepted := 0
	if len(raw) > 0 && raw[0] == '[' {
		var batch []event.Observation
		if err := json.Unmarshal(raw, &batch); err != nil {
			http.Error(w, "invalid json array", http.StatusBadRequest)
			return
		}
		for i := range batch {
			event.EnrichServerFields(r, &batch[i], e.Cfg.TrustProxy)
			e.Ledger.Apply(batch[i])
			accepted++
		}
	} else {
		var o event.Observation
		if err := json.Unmarshal(raw, &o); err != nil {
			http.Error(w, "invalid json object", http.StatusBadRequest)
			return
		}
		event.EnrichServerFields(r, &o, e.Cfg.TrustProxy)
		e.Ledger.Apply(o)
		accepted = 1
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"accepted": accepted, "status": "ok"})
}

// contextID parses the required ?context= query parameter.
func contextID(r *http.Request) (int64, bool) {
	v := r.URL.Query().Get("context")
	if v == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// stateResponse is the popup-facing snapshot for one browsing context.
type stateResponse struct {
	Settings engine.Settings   `json:"settings"`
	Page     *engine.PageEntry `json:"page"`
	Badge    engine.Badge      `json:"badge"`
	Tracked  bool              `json:"tracked"`
}

// GET /state?context=N
func (e Env) State(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := contextID(r)
	if !ok {
		http.Error(w, "missing or invalid context parameter", http.StatusBadRequest)
		return
	}
	settings, page, badge, tracked := e.Ledger.State(id)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stateResponse{
		Settings: settings,
		Page:     page,
		Badge:    badge,
		Tracked:  tracked,
	})
}

// GET /settings returns the current settings; POST applies a partial update.
func (e Env) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(e.Ledger.Settings())
	case http.MethodPost:
		defer r.Body.Close()
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
		if err != nil {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		var patch engine.SettingsPatch
		if err := json.Unmarshal(body, &patch); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if patch.BannerPolicy != nil {
			switch *patch.BannerPolicy {
			case engine.PolicyAlways, engine.PolicyEUCA, engine.PolicyOff:
			default:
				http.Error(w, "unknown banner policy", http.StatusBadRequest)
				return
			}
		}
		updated := e.Ledger.UpdateSettings(patch)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(updated)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /clear?context=N
func (e Env) Clear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := contextID(r)
	if !ok {
		http.Error(w, "missing or invalid context parameter", http.StatusBadRequest)
		return
	}
	if !e.Ledger.Clear(id) {
		http.Error(w, "unknown context", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "cleared"})
}

// POST /analyze?context=N kicks off the policy comparison for a page.
func (e Env) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if e.Analyzer == nil {
		http.Error(w, "policy analysis not configured", http.StatusNotImplemented)
		return
	}
	id, ok := contextID(r)
	if !ok {
		http.Error(w, "missing or invalid context parameter", http.StatusBadRequest)
		return
	}
	page, tracked := e.Ledger.Page(id)
	if !tracked {
		http.Error(w, "unknown context", http.StatusNotFound)
		return
	}
	// The comparison outlives this request; don't tie it to r.Context().
	if err := e.Analyzer.AnalyzePolicy(context.Background(), id, page.URL); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, oracle.ErrRateLimited) {
			status = http.StatusTooManyRequests
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "running"})
}
