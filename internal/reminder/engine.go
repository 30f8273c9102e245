// Package reminder turns trigger firings into exercise-count prompts.
package reminder

import (
	"sync"

	"github.com/rs/zerolog"

	"repbot/internal/notify"
	"repbot/internal/schedule"
)

// PromptText is the question sent on every firing, kept verbatim from the
// bot's original persona.
const PromptText = "Время отжиманий! Сколько раз вы хотите отжаться?"

// Engine owns the on-fire side of a trigger: build the count menu and hand
// it to the async notifier. Firing for one user never waits on dispatch to
// another; the notifier's worker pool does the fan-out.
type Engine struct {
	log      zerolog.Logger
	notifier *notify.Service

	mu      sync.Mutex
	options []int
}

func New(options []int, notifier *notify.Service, log zerolog.Logger) *Engine {
	return &Engine{
		log:      log,
		notifier: notifier,
		options:  append([]int(nil), options...),
	}
}

// Apply swaps the offered count menu (config hot reload).
func (e *Engine) Apply(options []int) {
	e.mu.Lock()
	e.options = append([]int(nil), options...)
	e.mu.Unlock()
}

// Options returns the current menu, in configured order.
func (e *Engine) Options() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.options...)
}

// OnFire is the schedule.FireFunc for every trigger. It never blocks and
// never returns an error to the scheduler: a full queue or a down
// transport only costs this single occurrence.
func (e *Engine) OnFire(userID int64, slot schedule.Slot) {
	e.log.Debug().Int64("user_id", userID).Str("slot", slot.Name).Msg("trigger fired")
	err := e.notifier.Enqueue(notify.Notification{
		UserID:  userID,
		Slot:    slot.Name,
		Text:    PromptText,
		Options: e.Options(),
	})
	if err != nil {
		e.log.Warn().Err(err).Int64("user_id", userID).Str("slot", slot.Name).Msg("prompt not queued")
	}
}
