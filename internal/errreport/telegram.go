package errreport

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"schedrun/internal/schedule"
	logx "schedrun/pkg/logx"
)

// TelegramConfig configures failure alerts to a Telegram chat.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// RatePerMin caps alerts per minute; bursts up to the same amount. Default 20.
	RatePerMin int
	// Source labels the alert (defaults to the hostname).
	Source string
	// Timeout bounds a single send. Default 10s.
	Timeout time.Duration
	// QueueSize caps alerts waiting to be sent. Default 32.
	QueueSize int
}

// Sender is the slice of *tele.Bot the reporter needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram posts failures to a chat from a background sender, so Report
// never waits on the network. Alerts over the rate limit or the queue size
// are dropped. Close sends what is queued and stops the sender.
type Telegram struct {
	cfg     TelegramConfig
	sender  Sender
	limiter *rate.Limiter
	log     logx.Logger

	mu     sync.Mutex
	closed bool
	queue  chan string
	done   chan struct{}
}

// NewTelegram builds a reporter backed by a bot that never polls for updates.
func NewTelegram(cfg TelegramConfig, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token, Offline: true})
	if err != nil {
		return nil, err
	}
	return NewTelegramWithSender(cfg, b, log), nil
}

// NewTelegramWithSender wires an arbitrary Sender (tests, shared bots).
func NewTelegramWithSender(cfg TelegramConfig, sender Sender, log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	per := cfg.RatePerMin
	if per <= 0 {
		per = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if strings.TrimSpace(cfg.Source) == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Source = h
		}
	}
	t := &Telegram{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(float64(per)/60.0), per),
		log:     log,
		queue:   make(chan string, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *Telegram) Report(_ context.Context, err error) {
	if err == nil || t.sender == nil {
		return
	}
	if !t.limiter.Allow() {
		t.log.Debug("telegram alert dropped (rate limited)")
		return
	}
	msg := t.format(err)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- msg:
	default:
		t.log.Warn("telegram alert dropped (queue full)", logx.Int("queue", cap(t.queue)))
	}
}

// Close sends the queued alerts and waits for the sender to stop. Each
// pending alert is bounded by the send timeout.
func (t *Telegram) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	<-t.done
	return nil
}

func (t *Telegram) loop() {
	defer close(t.done)
	for msg := range t.queue {
		t.send(msg)
	}
}

func (t *Telegram) send(msg string) {
	opt := &tele.SendOptions{DisableWebPagePreview: true, ThreadID: t.cfg.ThreadID}

	// telebot has no context support; bound the send ourselves.
	done := make(chan error, 1)
	go func() {
		_, serr := t.sender.Send(tele.ChatID(t.cfg.ChatID), msg, opt)
		done <- serr
	}()
	timer := time.NewTimer(t.cfg.Timeout)
	defer timer.Stop()
	select {
	case serr := <-done:
		if serr != nil {
			t.log.Warn("telegram alert failed", logx.Err(serr))
		}
	case <-timer.C:
		t.log.Warn("telegram alert timed out", logx.Duration("timeout", t.cfg.Timeout))
	}
}

func (t *Telegram) format(err error) string {
	var b strings.Builder
	b.WriteString("[FAILED] scheduled task")
	if t.cfg.Source != "" {
		b.WriteString(" on ")
		b.WriteString(t.cfg.Source)
	}
	if te, ok := AsTaskError(err); ok {
		b.WriteString("\n- task=")
		b.WriteString(truncate(te.Task, 300))
		b.WriteString("\n- mutex=")
		b.WriteString(te.Mutex)
		err = te.Err
	}
	var ee *schedule.ExitError
	if errors.As(err, &ee) {
		b.WriteString("\n- exit=")
		b.WriteString(strings.TrimPrefix(ee.Error(), "exit status "))
	}
	b.WriteString("\n- err=")
	b.WriteString(truncate(err.Error(), 600))
	var pe *schedule.PanicError
	if errors.As(err, &pe) {
		b.WriteString("\n- stack=\n")
		b.WriteString(truncate(pe.Stack, 900))
	}
	return truncate(b.String(), 3500)
}

// truncate caps s at maxN bytes without splitting a UTF-8 sequence.
func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	suffix := "..."
	if maxN < 10 {
		suffix = ""
	}
	cut := maxN - len(suffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + suffix
}
