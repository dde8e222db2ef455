package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/shortontech/consentry/internal/engine"
	"github.com/shortontech/consentry/internal/event"
)

// scriptedObservations replays a full page visit: navigation, a consent
// banner the user rejects, and trackers firing before and after the
// rejection. Running it against a log sink shows every violation branch.
func scriptedObservations() []event.Observation {
	base := time.Now().UnixMilli()
	gaReq := uuid.New().String()
	fbReq := uuid.New().String()

	return []event.Observation{
		{
			Type:      event.NavigationStart,
			ContextID: 1,
			TS:        base,
			URL:       "https://shop.example.com/checkout",
		},
		{
			Type:      event.ConsentObserved,
			ContextID: 1,
			TS:        base + 400,
			Detected:  true,
			Platform:  "OneTrust",
		},
		{
			// Fires while the banner is up, before any user choice.
			Type:         event.RequestObserved,
			ContextID:    1,
			TS:           base + 700,
			URL:          "https://www.google-analytics.com/g/collect?v=2",
			RequestID:    gaReq,
			Method:       "POST",
			ResourceType: "xhr",
		},
		{
			Type:      event.RequestHeaders,
			ContextID: 1,
			TS:        base + 720,
			RequestID: gaReq,
			Headers: []event.Header{
				{Name: "Content-Type", Value: "text/plain"},
				{Name: "Cookie", Value: "_ga=GA1.2.1234567890.1700000000; OptanonConsent=groups=C0001"},
			},
		},
		{
			Type:       event.ConsentObserved,
			ContextID:  1,
			TS:         base + 2000,
			UserAction: event.ActionRejected,
		},
		{
			// Fires after the explicit reject.
			Type:         event.RequestObserved,
			ContextID:    1,
			TS:           base + 2300,
			URL:          "https://connect.facebook.net/en_US/fbevents.js",
			RequestID:    fbReq,
			Method:       "GET",
			ResourceType: "script",
		},
		{
			// First-party call, retained nowhere.
			Type:         event.RequestObserved,
			ContextID:    1,
			TS:           base + 2400,
			URL:          "https://api.shop.example.com/v1/cart",
			RequestID:    uuid.New().String(),
			Method:       "GET",
			ResourceType: "xhr",
		},
	}
}

// runTestMode replays the scripted sequence through the ledger.
func runTestMode(ledger *engine.Ledger) {
	log.Info().Msg("test mode: replaying scripted observation sequence")

	obs := scriptedObservations()
	for i, o := range obs {
		log.Info().
			Int("seq", i+1).
			Int("total", len(obs)).
			Str("type", string(o.Type)).
			Msg("replaying observation")
		ledger.Apply(o)
		if i < len(obs)-1 {
			time.Sleep(100 * time.Millisecond)
		}
	}

	settings, page, badge, _ := ledger.State(1)
	log.Info().
		Str("policy", settings.BannerPolicy).
		Int("firings", len(page.Firings)).
		Int("violations", len(page.Violations)).
		Str("badge", badge.Status).
		Msg("test mode complete")
}
