package sink

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/shortontech/consentry/internal/engine"
)

type LogSink struct{}

func NewLogSink() *LogSink { return &LogSink{} }

func (s *LogSink) Start(ctx context.Context) error { return nil }

func (s *LogSink) Enqueue(r engine.Record) error {
	log.Info().
		Int64("context_id", r.ContextID).
		Str("page", r.PageURL).
		Str("domain", r.Domain).
		Str("kind", r.Violation.Type).
		Str("tracker", r.Violation.Tracker).
		Str("severity", r.Violation.Severity).
		Str("details", r.Violation.Details).
		Msg("violation")
	return nil
}

func (s *LogSink) Close() error { return nil }

func (s *LogSink) Name() string { return "log" }
