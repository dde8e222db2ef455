package event

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Normalize fields that the server can set/augment safely.
func EnrichServerFields(r *http.Request, o *Observation, trustProxy bool) {
	if o.TS == 0 {
		o.TS = time.Now().UnixMilli()
	}
	// Request observations arriving without a correlation id still need one
	// so header events and oracle verdicts can be merged later.
	if o.Type == RequestObserved && o.RequestID == "" {
		o.RequestID = uuid.New().String()
	}
	if o.Method != "" {
		o.Method = strings.ToUpper(o.Method)
	}
	o.Reporter = clientIPFromRequest(r, trustProxy)
}

// Validate rejects observations the engine cannot route.
func (o *Observation) Validate() error {
	switch o.Type {
	case NavigationStart, NavigationComplete, ConsentObserved, RequestObserved, RequestHeaders:
	default:
		return fmt.Errorf("unknown observation type %q", o.Type)
	}
	if o.ContextID < 0 {
		return fmt.Errorf("invalid context id %d", o.ContextID)
	}
	switch o.Type {
	case NavigationStart, RequestObserved:
		if o.URL == "" {
			return fmt.Errorf("%s requires url", o.Type)
		}
	case RequestHeaders:
		if o.RequestID == "" {
			return fmt.Errorf("request_headers requires request_id")
		}
	}
	return nil
}

func clientIPFromRequest(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
