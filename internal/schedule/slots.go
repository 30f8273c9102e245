package schedule

import (
	"fmt"

	"repbot/internal/config"
)

// Slot is one named recurring time of day. The same slot set applies to
// every user; slots are configuration, not per-user state.
type Slot struct {
	Name   string
	Hour   int
	Minute int
}

// CronSpec renders the slot as a 5-field cron spec (daily at HH:MM).
func (s Slot) CronSpec() string {
	return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
}

func (s Slot) String() string {
	return fmt.Sprintf("%s@%02d:%02d", s.Name, s.Hour, s.Minute)
}

// SlotsFromConfig converts the configured slot list, validating times.
func SlotsFromConfig(cfgs []config.SlotConfig) ([]Slot, error) {
	out := make([]Slot, 0, len(cfgs))
	for _, c := range cfgs {
		h, m, err := config.ParseHHMM(c.At)
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", c.Name, err)
		}
		out = append(out, Slot{Name: c.Name, Hour: h, Minute: m})
	}
	return out, nil
}
