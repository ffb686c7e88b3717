package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/directory"
	"relaybot/internal/dispatch"
	"relaybot/internal/links"
	"relaybot/internal/storage"
	"relaybot/internal/transport"
	"relaybot/pkg/logx"
)

const ownerID = 100

type sentMsg struct {
	ChatID  int64
	Text    string
	PhotoID string
}

type fakeAdapter struct {
	mu      sync.Mutex
	out     chan<- transport.Update
	sent    []sentMsg
	answers []string
	probes  map[int64]transport.ProbeStatus
	nextID  int
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.out = out
	return nil
}
func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMsg{ChatID: to.ChatID, Text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to transport.ChatTarget, photoID, caption string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMsg{ChatID: to.ChatID, Text: caption, PhotoID: photoID})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeAdapter) Delete(context.Context, transport.MessageRef) error { return nil }

func (f *fakeAdapter) Probe(_ context.Context, to transport.ChatTarget) (transport.ProbeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.probes[to.ChatID]; ok {
		return st, nil
	}
	return transport.ProbeActive, nil
}

func (f *fakeAdapter) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	f.answers = append(f.answers, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) sentTo(chatID int64) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAdapter) lastTo(chatID int64) (sentMsg, bool) {
	msgs := f.sentTo(chatID)
	if len(msgs) == 0 {
		return sentMsg{}, false
	}
	return msgs[len(msgs)-1], true
}

type harness struct {
	svc     *Service
	adapter *fakeAdapter
	dir     *directory.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir := directory.NewStore(db.SQL(), logx.Nop())
	ls := links.NewService(links.Config{BotUsername: "relay_bot", AppName: "app"}, db.SQL(), logx.Nop())
	adapter := &fakeAdapter{probes: map[int64]transport.ProbeStatus{}}
	d := dispatch.New(dispatch.Config{
		BaseDelay:     time.Millisecond,
		Cooldown:      time.Millisecond,
		CooldownEvery: 30,
		ProgressEvery: 50,
		SendTimeout:   time.Second,
	}, adapter, nil, logx.Nop())

	svc := New(Config{Owners: []int64{ownerID}}, adapter, dir, d, ls, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		svc.Stop(context.Background())
	})
	return &harness{svc: svc, adapter: adapter, dir: dir}
}

func (h *harness) message(from int64, text string) {
	h.adapter.out <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ChatID: from, FromID: from, FromFirst: "user", Text: text,
	}}
}

func (h *harness) callback(from int64, data string) {
	h.adapter.out <- transport.Update{Kind: transport.UpdateCallback, Callback: &transport.Callback{
		ID: "cb", FromID: from, ChatID: from, Data: data,
	}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func (h *harness) waitReplyContains(t *testing.T, chatID int64, sub string) {
	t.Helper()
	waitFor(t, func() bool {
		for _, m := range h.adapter.sentTo(chatID) {
			if strings.Contains(m.Text, sub) {
				return true
			}
		}
		return false
	})
}

func seedRecipients(t *testing.T, h *harness, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		if err := h.dir.Upsert(context.Background(), directory.Recipient{UserID: id, FirstName: "r"}); err != nil {
			t.Fatalf("seed %d: %v", id, err)
		}
	}
}

func TestFullBroadcastFlow(t *testing.T) {
	h := newHarness(t)
	seedRecipients(t, h, 1, 2, 3)

	h.callback(ownerID, "menu:all")
	h.waitReplyContains(t, ownerID, "3 recipients")

	h.message(ownerID, "big announcement")
	h.waitReplyContains(t, ownerID, "how it will look")

	h.callback(ownerID, "prev:ok")
	h.waitReplyContains(t, ownerID, "When should it go out")

	h.callback(ownerID, "pace:0")
	h.waitReplyContains(t, ownerID, "Ready to broadcast")

	h.callback(ownerID, "go:send")
	h.waitReplyContains(t, ownerID, "Broadcast finished")

	for _, id := range []int64{1, 2, 3} {
		msgs := h.adapter.sentTo(id)
		if len(msgs) != 1 || msgs[0].Text != "big announcement" {
			t.Fatalf("recipient %d got %+v", id, msgs)
		}
	}
}

func TestWindowSegmentFlow(t *testing.T) {
	h := newHarness(t)
	seedRecipients(t, h, 1, 2)

	h.callback(ownerID, "seg:newest")
	h.waitReplyContains(t, ownerID, "How far back")

	h.message(ownerID, "definitely not a window")
	h.waitReplyContains(t, ownerID, "did not understand")

	// The operator's own messages registered them too, so the fresh
	// window now matches the two seeds plus the operator.
	h.message(ownerID, "2d")
	h.waitReplyContains(t, ownerID, "3 recipients")
}

func TestEditKeepsAudience(t *testing.T) {
	h := newHarness(t)
	seedRecipients(t, h, 1, 2)

	h.callback(ownerID, "menu:all")
	h.waitReplyContains(t, ownerID, "2 recipients")
	h.message(ownerID, "draft one")
	h.waitReplyContains(t, ownerID, "how it will look")

	h.callback(ownerID, "prev:edit")
	h.waitReplyContains(t, ownerID, "Send the new message")
	h.message(ownerID, "draft two")
	h.callback(ownerID, "prev:ok")
	h.callback(ownerID, "pace:0")
	h.waitReplyContains(t, ownerID, "2 recipients</b>")

	h.callback(ownerID, "go:send")
	h.waitReplyContains(t, ownerID, "Broadcast finished")

	if m, ok := h.adapter.lastTo(1); !ok || m.Text != "draft two" {
		t.Fatalf("recipient got %+v", m)
	}
}

func TestNonOperatorGetsGreetingAndRegistered(t *testing.T) {
	h := newHarness(t)

	h.message(777, "/start")
	h.waitReplyContains(t, 777, greeting)

	waitFor(t, func() bool {
		ok, err := h.dir.Exists(context.Background(), 777)
		return err == nil && ok
	})

	h.callback(777, "menu:all")
	waitFor(t, func() bool {
		h.adapter.mu.Lock()
		defer h.adapter.mu.Unlock()
		for _, a := range h.adapter.answers {
			if a == notOperator {
				return true
			}
		}
		return false
	})
	// The menu action must not have run for the outsider.
	if msgs := h.adapter.sentTo(777); len(msgs) != 1 {
		t.Fatalf("outsider got extra replies: %+v", msgs)
	}
}

func TestSecureLinkFlow(t *testing.T) {
	h := newHarness(t)

	h.message(777, "https://t.me/somechannel/5")
	h.waitReplyContains(t, 777, "https://t.me/relay_bot/app?startapp=")

	h.message(778, "https://example.com/nope")
	h.waitReplyContains(t, 778, greeting)
}

func TestDoubleConfirmDispatchesOnce(t *testing.T) {
	h := newHarness(t)
	seedRecipients(t, h, 1)

	h.callback(ownerID, "menu:all")
	h.waitReplyContains(t, ownerID, "1 recipients")
	h.message(ownerID, "once only")
	h.callback(ownerID, "prev:ok")
	h.callback(ownerID, "pace:0")
	h.waitReplyContains(t, ownerID, "Ready to broadcast")

	h.callback(ownerID, "go:send")
	h.callback(ownerID, "go:send")
	h.waitReplyContains(t, ownerID, "Broadcast finished")

	// Let any duplicate run surface before counting.
	time.Sleep(50 * time.Millisecond)
	if msgs := h.adapter.sentTo(1); len(msgs) != 1 {
		t.Fatalf("recipient 1 got %d messages, want 1", len(msgs))
	}
}

func TestDirectoryAuditCleansDeleted(t *testing.T) {
	h := newHarness(t)
	seedRecipients(t, h, 1, 2, 3)
	h.adapter.mu.Lock()
	h.adapter.probes[2] = transport.ProbeDeleted
	h.adapter.probes[3] = transport.ProbeBlocked
	h.adapter.mu.Unlock()

	h.callback(ownerID, "tools:clean_deleted")
	h.waitReplyContains(t, ownerID, "Directory audit")

	ok, err := h.dir.Exists(context.Background(), 2)
	if err != nil || ok {
		t.Fatalf("deleted account still present: ok=%v err=%v", ok, err)
	}
	ok, err = h.dir.Exists(context.Background(), 3)
	if err != nil || !ok {
		t.Fatalf("blocked account removed by clean_deleted: ok=%v err=%v", ok, err)
	}
}
