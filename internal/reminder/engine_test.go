package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"repbot/internal/notify"
	"repbot/internal/schedule"
	"repbot/internal/transport"
)

type promptSink struct {
	mu      sync.Mutex
	got     []sentPrompt
	notifyC chan struct{}
}

type sentPrompt struct {
	chatID  int64
	text    string
	options []int
}

func newPromptSink() *promptSink {
	return &promptSink{notifyC: make(chan struct{}, 16)}
}

func (p *promptSink) Start(context.Context, chan<- transport.Update) error { return nil }
func (p *promptSink) Stop(context.Context) error                           { return nil }

func (p *promptSink) SendText(_ context.Context, chatID int64, text string) (transport.MessageRef, error) {
	return p.record(chatID, text, nil)
}

func (p *promptSink) SendPrompt(_ context.Context, chatID int64, text string, options []int) (transport.MessageRef, error) {
	return p.record(chatID, text, options)
}

func (p *promptSink) record(chatID int64, text string, options []int) (transport.MessageRef, error) {
	p.mu.Lock()
	p.got = append(p.got, sentPrompt{chatID: chatID, text: text, options: options})
	p.mu.Unlock()
	p.notifyC <- struct{}{}
	return transport.MessageRef{ChatID: chatID, MessageID: 1}, nil
}

func (p *promptSink) EditText(context.Context, transport.MessageRef, string) error { return nil }
func (p *promptSink) AnswerCallback(context.Context, string, string) error         { return nil }

func TestOnFireSendsCountMenu(t *testing.T) {
	t.Parallel()
	sink := newPromptSink()
	svc := notify.New(notify.Config{Workers: 1, RatePerSec: 1000}, sink, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	e := New([]int{20, 30, 40, 50}, svc, zerolog.Nop())
	e.OnFire(42, schedule.Slot{Name: "morning", Hour: 8, Minute: 30})

	select {
	case <-sink.notifyC:
	case <-time.After(3 * time.Second):
		t.Fatal("no prompt delivered")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 1 {
		t.Fatalf("prompts = %d, want 1", len(sink.got))
	}
	got := sink.got[0]
	if got.chatID != 42 {
		t.Fatalf("chatID = %d, want 42", got.chatID)
	}
	if got.text != PromptText {
		t.Fatalf("text = %q, want %q", got.text, PromptText)
	}
	want := []int{20, 30, 40, 50}
	if len(got.options) != len(want) {
		t.Fatalf("options = %v, want %v", got.options, want)
	}
	for i := range want {
		if got.options[i] != want[i] {
			t.Fatalf("options = %v, want %v (order matters)", got.options, want)
		}
	}
}

func TestApplySwapsMenu(t *testing.T) {
	t.Parallel()
	sink := newPromptSink()
	svc := notify.New(notify.Config{Workers: 1, RatePerSec: 1000}, sink, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	e := New([]int{20, 30}, svc, zerolog.Nop())
	e.Apply([]int{10, 15, 25})

	e.OnFire(1, schedule.Slot{Name: "noon", Hour: 12})
	select {
	case <-sink.notifyC:
	case <-time.After(3 * time.Second):
		t.Fatal("no prompt delivered")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if got := sink.got[0].options; len(got) != 3 || got[0] != 10 {
		t.Fatalf("options = %v, want [10 15 25]", got)
	}
}

func TestOnFireDoesNotBlockWhenNotifierStopped(t *testing.T) {
	t.Parallel()
	svc := notify.New(notify.Config{}, newPromptSink(), nil, zerolog.Nop())
	e := New([]int{20}, svc, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		e.OnFire(1, schedule.Slot{Name: "morning", Hour: 8, Minute: 30})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnFire blocked on a stopped notifier")
	}
}
