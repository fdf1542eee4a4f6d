package bot

import (
	"fmt"
	"io"
	"log"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pathakanu/taskMemo/internal/config"
	"github.com/pathakanu/taskMemo/internal/model"
	"github.com/pathakanu/taskMemo/internal/scheduler"
	"github.com/pathakanu/taskMemo/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendMessage(to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, body)
	return nil
}

func newTestBot(t *testing.T) (*Bot, *store.Store) {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite memory: %v", err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Task{}, &model.Reminder{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	st := store.New(db)
	logger := log.New(io.Discard, "", 0)
	// Discard armed timers so the suite never holds a live timer beyond
	// the test; these tests only exercise scheduling, not firing.
	sched := scheduler.New(st, &fakeSender{}, time.UTC, logger,
		scheduler.WithClock(time.Now, func(time.Duration, func()) *time.Timer { return nil }))
	cfg := &config.Config{HistoryWindowDays: 30, LocalTimezone: time.UTC}

	return New(cfg, st, sched, logger), st
}

func register(t *testing.T, b *Bot, userID, name string) {
	t.Helper()
	b.HandleMessage(userID, "", "start")
	reply := b.HandleMessage(userID, "", name)
	if !strings.Contains(reply, "Welcome "+name) {
		t.Fatalf("registration failed, got reply %q", reply)
	}
}

func TestRegistrationFlow(t *testing.T) {
	t.Parallel()
	b, st := newTestBot(t)

	reply := b.HandleMessage("u1", "jane", "start")
	if !strings.Contains(reply, "enter your full name") {
		t.Fatalf("expected name prompt for new user, got %q", reply)
	}

	reply = b.HandleMessage("u1", "jane", "Jane Doe")
	if reply != "✅ Welcome Jane Doe! Use addtask to begin." {
		t.Fatalf("unexpected registration reply: %q", reply)
	}

	user, err := st.GetUser("u1")
	if err != nil || user == nil {
		t.Fatalf("user not stored: %v", err)
	}
	if user.Name != "Jane Doe" || user.Username != "jane" {
		t.Fatalf("unexpected stored user: %+v", user)
	}

	reply = b.HandleMessage("u1", "jane", "start")
	if !strings.Contains(reply, "Welcome back") {
		t.Fatalf("expected greeting for registered user, got %q", reply)
	}
}

func TestReRegistrationKeepsLatestName(t *testing.T) {
	t.Parallel()
	b, st := newTestBot(t)

	register(t, b, "u1", "Old Name")
	b.HandleMessage("u1", "", "register")
	b.HandleMessage("u1", "", "New Name")

	user, _ := st.GetUser("u1")
	if user == nil || user.Name != "New Name" {
		t.Fatalf("expected latest name retained, got %+v", user)
	}
}

func TestUnregisteredGating(t *testing.T) {
	t.Parallel()
	b, st := newTestBot(t)

	for _, cmd := range []string{"addtask", "showtask", "complete 1", "deletetask all", "remind 5 hello", "history"} {
		reply := b.HandleMessage("u1", "", cmd)
		if !strings.Contains(reply, "register first") {
			t.Fatalf("command %q should prompt registration, got %q", cmd, reply)
		}
	}

	tasks, _ := st.ListTasks("u1")
	if len(tasks) != 0 {
		t.Fatalf("gated commands must not mutate, got %+v", tasks)
	}
}

func TestTaskEntryMode(t *testing.T) {
	t.Parallel()
	b, _ := newTestBot(t)
	register(t, b, "u1", "Jane Doe")

	reply := b.HandleMessage("u1", "", "addtask")
	if !strings.Contains(reply, "Send your task") {
		t.Fatalf("expected task entry prompt, got %q", reply)
	}

	if reply := b.HandleMessage("u1", "", "buy milk"); reply != "✅ Task added." {
		t.Fatalf("expected task added, got %q", reply)
	}
	if reply := b.HandleMessage("u1", "", "walk the dog"); reply != "✅ Task added." {
		t.Fatalf("expected task added, got %q", reply)
	}

	if reply := b.HandleMessage("u1", "", "donetask"); reply != "👍 Task entry ended." {
		t.Fatalf("unexpected donetask reply: %q", reply)
	}

	listing := b.HandleMessage("u1", "", "showtask")
	if !strings.Contains(listing, "1. buy milk [pending]") || !strings.Contains(listing, "2. walk the dog [pending]") {
		t.Fatalf("unexpected listing: %q", listing)
	}

	// Plain text after leaving the mode is not a task.
	reply = b.HandleMessage("u1", "", "feed the cat")
	if !strings.Contains(reply, "didn't catch that") {
		t.Fatalf("expected fallback outside task mode, got %q", reply)
	}
}

func TestEndForcesIdle(t *testing.T) {
	t.Parallel()
	b, st := newTestBot(t)
	register(t, b, "u1", "Jane Doe")

	b.HandleMessage("u1", "", "addtask")
	if reply := b.HandleMessage("u1", "", "end"); !strings.Contains(reply, "back to the start") {
		t.Fatalf("unexpected end reply: %q", reply)
	}

	b.HandleMessage("u1", "", "not a task anymore")
	tasks, _ := st.ListTasks("u1")
	if len(tasks) != 0 {
		t.Fatalf("end must leave task entry mode, got %+v", tasks)
	}
}

func TestCompleteTask(t *testing.T) {
	t.Parallel()
	b, st := newTestBot(t)
	register(t, b, "u1", "Jane Doe")

	st.AddTask("u1", "first")
	st.AddTask("u1", "second")

	if reply := b.HandleMessage("u1", "", "complete 2"); reply != "✅ Task marked complete." {
		t.Fatalf("unexpected complete reply: %q", reply)
	}

	tasks, _ := st.ListTasks("u1")
	if tasks[0].Status != model.StatusPending || tasks[1].Status != model.StatusCompleted {
		t.Fatalf("expected only the second task completed, got %+v", tasks)
	}
}

func TestCompleteInvalidNumber(t *testing.T) {
	t.Parallel()
	b, st := newTestBot(t)
	register(t, b, "u1", "Jane Doe")
	st.AddTask("u1", "only one")

	for _, cmd := range []string{"complete 2", "complete 0", "complete abc"} {
		if reply := b.HandleMessage("u1", "", cmd); reply != "⚠️ Invalid task number." {
			t.Fatalf("command %q: expected invalid task number, got %q", cmd, reply)
		}
	}
	if reply := b.HandleMessage("u1", "", "complete"); !strings.Contains(reply, "Usage") {
		t.Fatalf("expected usage reply, got %q", reply)
	}

	tasks, _ := st.ListTasks("u1")
	if tasks[0].Status != model.StatusPending {
		t.Fatalf("invalid completions must not mutate, got %+v", tasks)
	}
}

func TestDeleteTask(t *testing.T) {
	t.Parallel()
	b, st := newTestBot(t)
	register(t, b, "u1", "Jane Doe")

	st.AddTask("u1", "first")
	st.AddTask("u1", "second")

	if reply := b.HandleMessage("u1", "", "deletetask 1"); reply != "🗑️ Task deleted." {
		t.Fatalf("unexpected delete reply: %q", reply)
	}
	tasks, _ := st.ListTasks("u1")
	if len(tasks) != 1 || tasks[0].Text != "second" {
		t.Fatalf("expected only \"second\" remaining, got %+v", tasks)
	}

	if reply := b.HandleMessage("u1", "", "deletetask all"); reply != "🗑️ All tasks deleted." {
		t.Fatalf("unexpected delete-all reply: %q", reply)
	}
	if listing := b.HandleMessage("u1", "", "showtask"); listing != "📭 No tasks found." {
		t.Fatalf("expected empty listing, got %q", listing)
	}

	if reply := b.HandleMessage("u1", "", "deletetask"); !strings.Contains(reply, "Usage") {
		t.Fatalf("expected usage reply, got %q", reply)
	}
}

func TestRemind(t *testing.T) {
	t.Parallel()
	b, st := newTestBot(t)
	register(t, b, "u1", "Jane Doe")

	if reply := b.HandleMessage("u1", "", "remind 5 drink some water"); reply != "⏳ Reminder set for 5 minutes." {
		t.Fatalf("unexpected remind reply: %q", reply)
	}

	pending, _ := st.PendingReminders()
	if len(pending) != 1 || pending[0].Text != "drink some water" || pending[0].Minutes != 5 {
		t.Fatalf("unexpected persisted reminder: %+v", pending)
	}

	for _, cmd := range []string{"remind abc hello", "remind 0 hello", "remind -3 hello"} {
		if reply := b.HandleMessage("u1", "", cmd); reply != "⚠️ Invalid minutes." {
			t.Fatalf("command %q: expected invalid minutes, got %q", cmd, reply)
		}
	}
	if reply := b.HandleMessage("u1", "", "remind 5"); !strings.Contains(reply, "Usage") {
		t.Fatalf("expected usage reply, got %q", reply)
	}
	if reply := b.HandleMessage("u1", "", "remind 1000000000000 still around?"); !strings.Contains(reply, "too far ahead") {
		t.Fatalf("expected too-far-ahead reply, got %q", reply)
	}

	pending, _ = st.PendingReminders()
	if len(pending) != 1 {
		t.Fatalf("rejected reminders must not persist, got %+v", pending)
	}
}

func TestHistoryReply(t *testing.T) {
	t.Parallel()
	b, st := newTestBot(t)
	register(t, b, "u1", "Jane Doe")

	if reply := b.HandleMessage("u1", "", "history"); reply != "📭 No history available." {
		t.Fatalf("expected empty history reply, got %q", reply)
	}

	st.AddTask("u1", "one")
	task, _ := st.AddTask("u1", "two")
	st.CompleteTask(task.ID)

	reply := b.HandleMessage("u1", "", "history")
	if !strings.Contains(reply, "📊 Task History:") || !strings.Contains(reply, "2 tasks (1 completed)") {
		t.Fatalf("unexpected history reply: %q", reply)
	}
}

func TestHelpAndFallback(t *testing.T) {
	t.Parallel()
	b, _ := newTestBot(t)

	help := b.HandleMessage("u1", "", "help")
	for _, cmd := range []string{"start", "addtask", "showtask", "complete", "deletetask", "remind", "history", "end"} {
		if !strings.Contains(help, cmd) {
			t.Fatalf("help should mention %q, got %q", cmd, help)
		}
	}

	// Unknown commands are case-sensitive, so Start is not a command.
	for _, msg := range []string{"Start", "hello there", "SHOWTASK"} {
		if reply := b.HandleMessage("u1", "", msg); !strings.Contains(reply, "didn't catch that") {
			t.Fatalf("message %q: expected fallback, got %q", msg, reply)
		}
	}
}

func TestWebhookHandler(t *testing.T) {
	t.Parallel()
	b, _ := newTestBot(t)

	form := url.Values{}
	form.Set("From", "whatsapp:+15551234567")
	form.Set("Body", "help")
	req := httptest.NewRequest("POST", "/twilio/webhook", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); got != "application/xml" {
		t.Fatalf("expected xml response, got %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<Response>") || !strings.Contains(body, "Commands:") {
		t.Fatalf("unexpected TwiML body: %q", body)
	}

	// Missing body falls back to the guard reply.
	req = httptest.NewRequest("POST", "/twilio/webhook", strings.NewReader("From=whatsapp%3A%2B15551234567"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "I need a message to work with") {
		t.Fatalf("unexpected guard reply: %q", rec.Body.String())
	}
}
