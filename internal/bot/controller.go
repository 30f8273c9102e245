// Package bot bridges inbound user actions to the ledger and the schedule
// registry.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"repbot/internal/eventbus"
	"repbot/internal/ledger"
	"repbot/internal/metrics"
	"repbot/internal/schedule"
	"repbot/internal/transport"
)

// ErrInvalidChoice marks a count response outside the allowed menu. The
// ledger is never touched in that case.
var ErrInvalidChoice = errors.New("bot: invalid count choice")

// Controller handles registration, count responses and stats queries.
//
// Policy notes (fixed project-wide, see ledger package):
//   - /stats never registers as a side effect.
//   - A valid count response is credited regardless of which prompt it
//     answers; prompts carry no correlation token.
type Controller struct {
	log      zerolog.Logger
	adapter  transport.Adapter
	ledger   ledger.Ledger
	registry *schedule.Registry
	bus      eventbus.Bus

	mu      sync.Mutex
	allowed map[int]bool
}

func NewController(adapter transport.Adapter, led ledger.Ledger, registry *schedule.Registry, allowedCounts []int, bus eventbus.Bus, log zerolog.Logger) *Controller {
	c := &Controller{
		log:      log,
		adapter:  adapter,
		ledger:   led,
		registry: registry,
		bus:      bus,
	}
	c.Apply(allowedCounts)
	return c
}

// Apply swaps the allowed count set (config hot reload).
func (c *Controller) Apply(allowedCounts []int) {
	set := make(map[int]bool, len(allowedCounts))
	for _, v := range allowedCounts {
		set[v] = true
	}
	c.mu.Lock()
	c.allowed = set
	c.mu.Unlock()
}

// Commands is the platform command menu.
func (c *Controller) Commands() []transport.BotCommand {
	return []transport.BotCommand{
		{Command: "start", Description: "Подписаться на напоминания"},
		{Command: "stats", Description: "Общее количество отжиманий"},
	}
}

// Rehydrate reinstalls triggers for every registered user. Run at startup
// so a restart never requires users to /start again; the ledger's user set
// is the single source of truth.
func (c *Controller) Rehydrate(ctx context.Context) error {
	users, err := c.ledger.AllUsers(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate: %w", err)
	}
	for _, userID := range users {
		if err := c.registry.EnsureTriggers(userID); err != nil {
			return fmt.Errorf("rehydrate user %d: %w", userID, err)
		}
	}
	c.log.Info().Int("users", len(users)).Msg("schedules rehydrated")
	return nil
}

// DispatchLoop consumes transport updates until ctx is done. Each update
// is handled on its own goroutine so one user's slow exchange cannot delay
// another's.
func (c *Controller) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			go func() {
				defer func() {
					if r := recover(); r != nil {
						c.log.Error().Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic handling update")
					}
				}()
				c.handleUpdate(ctx, up)
			}()
		}
	}
}

func (c *Controller) handleUpdate(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			c.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			c.handleCallback(ctx, up.Callback)
		}
	}
}

func (c *Controller) handleMessage(ctx context.Context, m *transport.Message) {
	cmd := strings.ToLower(strings.TrimSpace(m.Text))
	// Strip a "@botname" suffix, present in group chats.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	switch cmd {
	case "/start":
		if err := c.OnRegistration(ctx, m.ChatID); err != nil {
			c.log.Error().Err(err).Int64("user_id", m.ChatID).Msg("registration failed")
			return
		}
		c.reply(ctx, m.ChatID, textGreeting)
	case "/stats":
		total, err := c.OnStatsQuery(ctx, m.ChatID)
		if err != nil {
			c.log.Error().Err(err).Int64("user_id", m.ChatID).Msg("stats query failed")
			return
		}
		c.reply(ctx, m.ChatID, fmt.Sprintf(textStatsFmt, total))
	default:
		// Anything else is noise; the bot only speaks in commands and
		// prompts.
	}
}

func (c *Controller) handleCallback(ctx context.Context, cb *transport.Callback) {
	amount, err := strconv.Atoi(strings.TrimSpace(cb.Data))
	if err != nil {
		c.answer(ctx, cb.ID, textInvalidChoice)
		return
	}

	total, err := c.OnCountResponse(ctx, cb.ChatID, amount)
	switch {
	case errors.Is(err, ErrInvalidChoice):
		c.answer(ctx, cb.ID, textInvalidChoice)
		return
	case errors.Is(err, ledger.ErrUnknownUser):
		c.answer(ctx, cb.ID, textNotRegistered)
		return
	case err != nil:
		c.log.Error().Err(err).Int64("user_id", cb.ChatID).Int("amount", amount).Msg("count response failed")
		c.answer(ctx, cb.ID, "")
		return
	}

	c.answer(ctx, cb.ID, "")
	done := fmt.Sprintf(textRecordedFmt, amount, total)
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := c.adapter.EditText(ctx, ref, done); err != nil {
		// Editing can fail on old prompts; fall back to a fresh message.
		c.reply(ctx, cb.ChatID, done)
	}
}

// OnRegistration registers the user and installs their triggers. Safe to
// call any number of times.
func (c *Controller) OnRegistration(ctx context.Context, userID int64) error {
	if err := c.ledger.Register(ctx, userID); err != nil {
		return err
	}
	if err := c.registry.EnsureTriggers(userID); err != nil {
		return err
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{
			Type: eventbus.TypeUserRegistered,
			Data: eventbus.UserEvent{UserID: userID},
		})
	}
	return nil
}

// OnCountResponse validates the chosen amount against the allowed menu and
// credits it. Returns the new running total.
func (c *Controller) OnCountResponse(ctx context.Context, userID int64, amount int) (int64, error) {
	c.mu.Lock()
	ok := c.allowed[amount]
	c.mu.Unlock()
	if !ok {
		metrics.IncInvalidChoice()
		return 0, fmt.Errorf("%w: %d", ErrInvalidChoice, amount)
	}

	total, err := c.ledger.Increment(ctx, userID, amount)
	if err != nil {
		return 0, err
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{
			Type: eventbus.TypeCountRecorded,
			Data: eventbus.UserEvent{UserID: userID, Amount: amount, Total: total},
		})
	}
	return total, nil
}

// OnStatsQuery returns the user's running total; 0 for unknown users, with
// no registration side effect.
func (c *Controller) OnStatsQuery(ctx context.Context, userID int64) (int64, error) {
	return c.ledger.Total(ctx, userID)
}

func (c *Controller) reply(ctx context.Context, chatID int64, text string) {
	if _, err := c.adapter.SendText(ctx, chatID, text); err != nil {
		c.log.Warn().Err(err).Int64("user_id", chatID).Msg("reply failed")
	}
}

func (c *Controller) answer(ctx context.Context, callbackID, text string) {
	if err := c.adapter.AnswerCallback(ctx, callbackID, text); err != nil {
		c.log.Debug().Err(err).Msg("answer callback failed")
	}
}
