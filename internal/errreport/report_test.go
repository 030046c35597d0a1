package errreport

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	"schedrun/internal/schedule"
	logx "schedrun/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	to   []tele.Recipient
	msgs []string
	opts []*tele.SendOptions
	err  error
}

func (f *fakeSender) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	s, _ := what.(string)
	f.msgs = append(f.msgs, s)
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			f.opts = append(f.opts, so)
		}
	}
	return &tele.Message{ID: len(f.msgs)}, f.err
}

func TestTelegramReportFormatsTaskError(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	r := NewTelegramWithSender(TelegramConfig{ChatID: -100123, ThreadID: 7, Source: "web-1"}, fs, logx.Nop())

	r.Report(context.Background(), &TaskError{Task: "backup", Mutex: "backup", Err: &schedule.ExitError{Code: 3}})
	_ = r.Close()

	if len(fs.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fs.msgs))
	}
	msg := fs.msgs[0]
	for _, want := range []string{"on web-1", "task=backup", "exit=3"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if got := fs.to[0].Recipient(); got != "-100123" {
		t.Fatalf("recipient = %q", got)
	}
	if fs.opts[0].ThreadID != 7 {
		t.Fatalf("thread id = %d, want 7", fs.opts[0].ThreadID)
	}
}

func TestTelegramRateLimited(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	r := NewTelegramWithSender(TelegramConfig{ChatID: 1, RatePerMin: 2}, fs, logx.Nop())
	for i := 0; i < 5; i++ {
		r.Report(context.Background(), errors.New("fail"))
	}
	_ = r.Close()
	if len(fs.msgs) != 2 {
		t.Fatalf("sent %d messages, want 2 (burst)", len(fs.msgs))
	}
}

func TestTelegramSendErrorIsSwallowed(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{err: errors.New("network down")}
	r := NewTelegramWithSender(TelegramConfig{ChatID: 1}, fs, logx.Nop())
	r.Report(context.Background(), errors.New("fail"))
	r.Report(context.Background(), nil)
	_ = r.Close()
	if len(fs.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fs.msgs))
	}
}

func TestPanicStackIncluded(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	r := NewTelegramWithSender(TelegramConfig{ChatID: 1, Source: "x"}, fs, logx.Nop())
	r.Report(context.Background(), &schedule.PanicError{Value: "boom", Stack: "goroutine 1 [running]"})
	_ = r.Close()
	if !strings.Contains(fs.msgs[0], "stack=\ngoroutine 1") {
		t.Fatalf("message missing stack:\n%s", fs.msgs[0])
	}
}

type blockingSender struct {
	entered chan struct{}
	release chan struct{}
	sent    chan string
}

func (b *blockingSender) Send(_ tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	b.entered <- struct{}{}
	<-b.release
	s, _ := what.(string)
	b.sent <- s
	return &tele.Message{}, nil
}

func TestTelegramReportDoesNotWaitForSend(t *testing.T) {
	t.Parallel()
	bs := &blockingSender{entered: make(chan struct{}, 8), release: make(chan struct{}), sent: make(chan string, 8)}
	r := NewTelegramWithSender(TelegramConfig{ChatID: 1, QueueSize: 2, Timeout: time.Minute}, bs, logx.Nop())

	start := time.Now()
	r.Report(context.Background(), errors.New("first"))
	<-bs.entered
	for i := 0; i < 4; i++ {
		r.Report(context.Background(), errors.New("fail"))
	}
	if d := time.Since(start); d > time.Second {
		t.Fatalf("Report blocked for %v", d)
	}

	close(bs.release)
	_ = r.Close()
	// One alert in flight plus a full queue; the rest were dropped.
	if got := len(bs.sent); got != 3 {
		t.Fatalf("sent %d alerts, want 3", got)
	}
	r.Report(context.Background(), errors.New("after close"))
	if got := len(bs.sent); got != 3 {
		t.Fatalf("alert sent after Close")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		maxN int
		want string
	}{
		{"short", 10, "short"},
		{"abcdefghijklmnop", 12, "abcdefghi..."},
		{"héllo", 2, "h"},
		{"日本語テキストです", 10, "日本..."},
		{"日本語テキストです", 5, "日"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.maxN)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.maxN, got, tt.want)
		}
		if !utf8.ValidString(got) || len(got) > tt.maxN {
			t.Errorf("truncate(%q, %d) = %q is not a valid prefix", tt.in, tt.maxN, got)
		}
	}
}

func TestMultiClosesReporters(t *testing.T) {
	t.Parallel()
	fs := &fakeSender{}
	tg := NewTelegramWithSender(TelegramConfig{ChatID: 1}, fs, logx.Nop())
	m := Multi{NewLog(logx.Nop()), tg}
	m.Report(context.Background(), errors.New("fail"))
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.msgs) != 1 {
		t.Fatalf("sent %d messages after Close, want 1", len(fs.msgs))
	}
}

func TestNewTelegramValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegram(TelegramConfig{ChatID: 1}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := NewTelegram(TelegramConfig{Token: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
}

func TestMultiAndLog(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	var calls int
	m := Multi{
		NewLog(logx.NewWriter(&buf, "info")),
		nil,
		ReporterFunc(func(context.Context, error) { calls++ }),
	}
	m.Report(context.Background(), &TaskError{Task: "report", Mutex: "m1", Err: errors.New("x")})
	if calls != 1 {
		t.Fatalf("func reporter calls = %d", calls)
	}
	if !strings.Contains(buf.String(), `"task":"report"`) || !strings.Contains(buf.String(), `"mutex":"m1"`) {
		t.Fatalf("log reporter output = %s", buf.String())
	}
}

func TestTaskErrorUnwrap(t *testing.T) {
	t.Parallel()
	inner := errors.New("inner")
	err := error(&TaskError{Task: "t", Err: inner})
	if !errors.Is(err, inner) {
		t.Fatalf("TaskError should unwrap")
	}
	if err.Error() != "task t: inner" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
