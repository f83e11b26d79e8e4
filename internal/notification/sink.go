package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"leverage-scanner/internal/model"
)

// SinkConfig configures signal alert delivery.
type SinkConfig struct {
	Cooldown     time.Duration `yaml:"cooldown" default:"30m"`
	IncludeHints bool          `yaml:"include_hints"`
}

// Sink turns signal records into alerts. Repeats of the same
// (symbol, timeframe, label) inside the cooldown are suppressed.
type Sink struct {
	notifier Notifier
	cfg      SinkConfig
	log      *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewSink wraps a notifier as a model.SignalSink.
func NewSink(n Notifier, cfg SinkConfig) *Sink {
	return &Sink{
		notifier: n,
		cfg:      cfg,
		log:      slog.Default().With("component", "notify-sink"),
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Name implements model.SignalSink.
func (s *Sink) Name() string { return "notify" }

// Emit sends an alert for rec unless it is a hint (when hints are off) or
// still cooling down. Failed sends do not start the cooldown.
func (s *Sink) Emit(ctx context.Context, rec model.SignalRecord) error {
	if rec.LabelType == model.LabelHint && !s.cfg.IncludeHints {
		return nil
	}

	key := rec.Symbol + "|" + rec.Timeframe + "|" + rec.LabelType
	now := s.now()

	s.mu.Lock()
	if at, ok := s.last[key]; ok && s.cfg.Cooldown > 0 && now.Sub(at) < s.cfg.Cooldown {
		s.mu.Unlock()
		s.log.Debug("alert suppressed", "key", key, "since", now.Sub(at))
		return nil
	}
	s.mu.Unlock()

	if err := s.notifier.Send(ctx, FormatSignal(rec)); err != nil {
		return err
	}

	s.mu.Lock()
	s.last[key] = now
	s.mu.Unlock()
	return nil
}

// FormatSignal renders the chat alert for a signal record.
func FormatSignal(rec model.SignalRecord) Alert {
	kind := "Valid"
	if rec.LabelType == model.LabelHint {
		kind = "Hint"
	}

	var b strings.Builder
	b.WriteString(rec.Reason + "\n")
	b.WriteString("Confidence: " + rec.ConfidenceStars + "\n")
	b.WriteString("Price from BO: " + optional(rec.PriceFromBreakoutPct) + "%\n")
	b.WriteString("EMA Align: " + optional(rec.EMAAlignment) + "\n")
	b.WriteString("Momentum: " + strconv.Itoa(rec.MomentumScore) + "\n")
	b.WriteString("🕒 Signal Age: " + formatFloat(rec.SignalAgeMinutes) + " min\n")
	if rec.SignalDelayMinutes != nil {
		b.WriteString("⏱ 1m Lead: " + formatFloat(*rec.SignalDelayMinutes) + " min\n")
	}
	b.WriteString("📌 " + kind + " Signal")

	return Alert{
		Level:   AlertInfo,
		Icon:    "📈",
		Title:   fmt.Sprintf("%s @ %s", rec.Symbol, rec.Timeframe),
		Message: b.String(),
		Fields:  rec,
	}
}

func optional(v *float64) string {
	if v == nil {
		return "?"
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
