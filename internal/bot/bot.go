package bot

import (
	"encoding/xml"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/pathakanu/taskMemo/internal/config"
	"github.com/pathakanu/taskMemo/internal/model"
	"github.com/pathakanu/taskMemo/internal/scheduler"
	"github.com/pathakanu/taskMemo/internal/store"
)

// Bot routes inbound commands to the task store and reminder scheduler and
// produces one text reply per message.
type Bot struct {
	cfg       *config.Config
	store     *store.Store
	scheduler *scheduler.Scheduler
	state     *conversationStore
	logger    *log.Logger
}

// New creates a fully configured Bot instance.
func New(cfg *config.Config, st *store.Store, sched *scheduler.Scheduler, logger *log.Logger) *Bot {
	return &Bot{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		state:     newConversationStore(),
		logger:    logger,
	}
}

// Handler returns the HTTP handler for incoming Twilio messages.
func (b *Bot) Handler() http.HandlerFunc {
	return b.handleIncomingMessage
}

// handleIncomingMessage processes Twilio webhook POST requests.
func (b *Bot) handleIncomingMessage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		b.logger.Printf("webhook: parse error: %v", err)
		b.writeTwilioResponse(w, "Sorry, I couldn't understand that request.")
		return
	}

	from := r.FormValue("From")
	body := strings.TrimSpace(r.FormValue("Body"))
	if from == "" || body == "" {
		b.writeTwilioResponse(w, "I need a message to work with. Please try again.")
		return
	}

	userID := sanitizeWhatsAppNumber(from)
	profileName := strings.TrimSpace(r.FormValue("ProfileName"))
	b.writeTwilioResponse(w, b.HandleMessage(userID, profileName, body))
}

// HandleMessage classifies one inbound message and returns the reply text.
// The first whitespace-delimited token is matched case-sensitively against
// the command set; anything else is interpreted through the user's current
// conversation mode.
func (b *Bot) HandleMessage(userID, username, body string) string {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return fallbackReply()
	}
	command, args := fields[0], fields[1:]

	switch command {
	case "start":
		return b.handleStart(userID)
	case "register":
		b.state.Set(userID, modeAwaitingName)
		return "📝 Please enter your full name:"
	case "addtask":
		if reply := b.requireUser(userID); reply != "" {
			return reply
		}
		b.state.Set(userID, modeAwaitingTasks)
		return "📌 Send your task. Use donetask when done."
	case "donetask":
		b.state.Set(userID, modeIdle)
		return "👍 Task entry ended."
	case "showtask":
		return b.handleShowTasks(userID)
	case "complete":
		return b.handleComplete(userID, args)
	case "deletetask":
		return b.handleDelete(userID, args)
	case "remind":
		return b.handleRemind(userID, args)
	case "history":
		return b.handleHistory(userID)
	case "help":
		return helpReply()
	case "end":
		b.state.Set(userID, modeIdle)
		return "👍 Okay, back to the start."
	}

	switch b.state.Get(userID) {
	case modeAwaitingName:
		return b.finishRegistration(userID, username, body)
	case modeAwaitingTasks:
		if _, err := b.store.AddTask(userID, body); err != nil {
			b.logger.Printf("add task for %s: %v", userID, err)
			return "I couldn't save that task. Please try again."
		}
		return "✅ Task added."
	default:
		return fallbackReply()
	}
}

func (b *Bot) handleStart(userID string) string {
	user, err := b.store.GetUser(userID)
	if err != nil {
		b.logger.Printf("get user %s: %v", userID, err)
		return "Something went wrong. Please try again."
	}
	if user == nil {
		b.state.Set(userID, modeAwaitingName)
		return "👋 Welcome! Please enter your full name to register:"
	}
	return "👋 Welcome back! Use help for commands."
}

// finishRegistration completes the AwaitingName flow. The whole message is
// taken as the name; registering an already known id replaces the stored
// name and username.
func (b *Bot) finishRegistration(userID, username, name string) string {
	b.state.Set(userID, modeIdle)
	if _, err := b.store.RegisterUser(userID, name, username); err != nil {
		b.logger.Printf("register user %s: %v", userID, err)
		return "I couldn't register you. Please try again."
	}
	return fmt.Sprintf("✅ Welcome %s! Use addtask to begin.", name)
}

func (b *Bot) handleShowTasks(userID string) string {
	if reply := b.requireUser(userID); reply != "" {
		return reply
	}
	tasks, err := b.store.ListTasks(userID)
	if err != nil {
		b.logger.Printf("list tasks for %s: %v", userID, err)
		return "Something went wrong. Please try again."
	}
	if len(tasks) == 0 {
		return "📭 No tasks found."
	}

	var sb strings.Builder
	sb.WriteString("📋 Your tasks:\n")
	for i, task := range tasks {
		sb.WriteString(fmt.Sprintf("%d. %s [%s]\n", i+1, task.Text, task.Status))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) handleComplete(userID string, args []string) string {
	if reply := b.requireUser(userID); reply != "" {
		return reply
	}
	if len(args) < 1 {
		return "⚠️ Usage: complete [task#]"
	}
	task, reply := b.taskAtArg(userID, args[0])
	if reply != "" {
		return reply
	}
	if err := b.store.CompleteTask(task.ID); err != nil {
		b.logger.Printf("complete task %d: %v", task.ID, err)
		return "Something went wrong. Please try again."
	}
	return "✅ Task marked complete."
}

func (b *Bot) handleDelete(userID string, args []string) string {
	if reply := b.requireUser(userID); reply != "" {
		return reply
	}
	if len(args) < 1 {
		return "⚠️ Usage: deletetask [task# or all]"
	}
	if args[0] == "all" {
		if _, err := b.store.DeleteAllTasks(userID); err != nil {
			b.logger.Printf("delete all tasks for %s: %v", userID, err)
			return "Something went wrong. Please try again."
		}
		return "🗑️ All tasks deleted."
	}
	task, reply := b.taskAtArg(userID, args[0])
	if reply != "" {
		return reply
	}
	if err := b.store.DeleteTask(task.ID); err != nil {
		b.logger.Printf("delete task %d: %v", task.ID, err)
		return "Something went wrong. Please try again."
	}
	return "🗑️ Task deleted."
}

func (b *Bot) handleRemind(userID string, args []string) string {
	if reply := b.requireUser(userID); reply != "" {
		return reply
	}
	if len(args) < 2 {
		return "Usage: remind [minutes] [message]"
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil || minutes < 1 {
		return "⚠️ Invalid minutes."
	}
	message := strings.Join(args[1:], " ")
	if _, err := b.scheduler.Schedule(userID, message, minutes); err != nil {
		if errors.Is(err, scheduler.ErrInvalidMinutes) {
			return "⚠️ Invalid minutes."
		}
		if errors.Is(err, scheduler.ErrMinutesTooLarge) {
			return "⚠️ That's too far ahead. Reminders can be set at most 10 years out."
		}
		b.logger.Printf("schedule reminder for %s: %v", userID, err)
		return "I couldn't set that reminder. Please try again."
	}
	return fmt.Sprintf("⏳ Reminder set for %d minutes.", minutes)
}

func (b *Bot) handleHistory(userID string) string {
	if reply := b.requireUser(userID); reply != "" {
		return reply
	}
	stats, err := b.store.History(userID, b.cfg.HistoryWindowDays)
	if err != nil {
		b.logger.Printf("history for %s: %v", userID, err)
		return "Something went wrong. Please try again."
	}
	if len(stats) == 0 {
		return "📭 No history available."
	}

	var sb strings.Builder
	sb.WriteString("📊 Task History:\n\n")
	for _, day := range stats {
		sb.WriteString(fmt.Sprintf("📅 %s: %d tasks (%d completed)\n", day.Day, day.Total, day.Completed))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// taskAtArg parses a 1-based ordinal and resolves it against a fresh
// listing in a single store call, so the index can never be consulted
// against a listing from an earlier round trip. A non-numeric or
// out-of-range argument produces the user-facing error reply; nothing is
// mutated.
func (b *Bot) taskAtArg(userID, arg string) (*model.Task, string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return nil, "⚠️ Invalid task number."
	}
	task, err := b.store.TaskAt(userID, n)
	if errors.Is(err, store.ErrInvalidTaskNumber) {
		return nil, "⚠️ Invalid task number."
	}
	if err != nil {
		b.logger.Printf("resolve task %d for %s: %v", n, userID, err)
		return nil, "Something went wrong. Please try again."
	}
	return task, ""
}

// requireUser returns an empty string when the user is registered,
// otherwise the reply prompting registration.
func (b *Bot) requireUser(userID string) string {
	user, err := b.store.GetUser(userID)
	if err != nil {
		b.logger.Printf("get user %s: %v", userID, err)
		return "Something went wrong. Please try again."
	}
	if user == nil {
		return "Please register first: send start and enter your full name."
	}
	return ""
}

func (b *Bot) writeTwilioResponse(w http.ResponseWriter, message string) {
	twiml := struct {
		XMLName xml.Name `xml:"Response"`
		Message string   `xml:"Message"`
	}{
		Message: message,
	}

	w.Header().Set("Content-Type", "application/xml")
	if err := xml.NewEncoder(w).Encode(twiml); err != nil {
		b.logger.Printf("twilio response encode: %v", err)
	}
}

func sanitizeWhatsAppNumber(from string) string {
	// Twilio prepends whatsapp: to the number.
	return strings.TrimPrefix(from, "whatsapp:")
}

func fallbackReply() string {
	return "🤔 I didn't catch that. Send help to see what I can do."
}

func helpReply() string {
	return `📚 Commands:
• start - Start or login
• register - Register new user
• addtask - Add a new task
• donetask - End task addition
• showtask - Show tasks
• complete [n] - Mark task as complete
• deletetask [n/all] - Delete task(s)
• remind [min] msg - Set reminder
• history - Show task history
• end - Leave any multi-step mode`
}
