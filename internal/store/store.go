package store

import (
	"errors"
	"time"

	"github.com/pathakanu/taskMemo/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidTaskNumber is returned when a 1-based task ordinal does not
// resolve to a task in the user's current listing.
var ErrInvalidTaskNumber = errors.New("invalid task number")

// Store provides all persistence operations for users, tasks and reminders.
// The connection is held explicitly; callers construct one Store per database.
type Store struct {
	db *gorm.DB
}

// New wraps an open GORM connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetUser returns the user with the given platform id, or nil when absent.
func (s *Store) GetUser(id string) (*model.User, error) {
	var user model.User
	err := s.db.First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RegisterUser creates or replaces the user row. Registering the same id
// again overwrites name and username, so re-registration is idempotent but
// destructive to the previous identity fields.
func (s *Store) RegisterUser(id, name, username string) (*model.User, error) {
	if username == "" {
		username = model.UsernameNotProvided
	}
	user := &model.User{
		ID:           id,
		Name:         name,
		Username:     username,
		RegisteredAt: time.Now(),
	}
	if err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// AddTask appends a pending task to the user's list.
func (s *Store) AddTask(userID, text string) (*model.Task, error) {
	task := &model.Task{
		UserID: userID,
		Text:   text,
		Status: model.StatusPending,
	}
	if err := s.db.Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns the user's tasks in insertion order (creation time
// ascending, id as tie-breaker).
func (s *Store) ListTasks(userID string) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&tasks).Error
	return tasks, err
}

// TaskAt resolves a 1-based positional index against a fresh listing. The
// fetch and the index resolution happen inside this one call so a stale
// listing shown to the user cannot be consulted across round trips.
func (s *Store) TaskAt(userID string, n int) (*model.Task, error) {
	tasks, err := s.ListTasks(userID)
	if err != nil {
		return nil, err
	}
	if n < 1 || n > len(tasks) {
		return nil, ErrInvalidTaskNumber
	}
	return &tasks[n-1], nil
}

// CompleteTask marks the task completed by primary key.
func (s *Store) CompleteTask(taskID uint) error {
	return s.db.Model(&model.Task{}).
		Where("id = ?", taskID).
		Update("status", model.StatusCompleted).Error
}

// DeleteTask removes a single task row by primary key.
func (s *Store) DeleteTask(taskID uint) error {
	return s.db.Delete(&model.Task{}, taskID).Error
}

// DeleteAllTasks removes every task owned by the user and reports how many
// rows were deleted.
func (s *Store) DeleteAllTasks(userID string) (int64, error) {
	res := s.db.Where("user_id = ?", userID).Delete(&model.Task{})
	return res.RowsAffected, res.Error
}

// DayStats is one day of task history.
type DayStats struct {
	Day       string
	Total     int
	Completed int
}

// History groups the user's tasks by calendar day of creation over the
// trailing window, ascending, omitting days with no tasks. The completed
// count reflects status at query time: a task completed today counts under
// its creation day, which is intentional for trend reading.
func (s *Store) History(userID string, windowDays int) ([]DayStats, error) {
	cutoff := time.Now().AddDate(0, 0, -windowDays)
	var stats []DayStats
	err := s.db.Model(&model.Task{}).
		Select("date(created_at) AS day, count(*) AS total, sum(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed", model.StatusCompleted).
		Where("user_id = ? AND created_at >= ?", userID, cutoff).
		Group("date(created_at)").
		Order("day ASC").
		Scan(&stats).Error
	return stats, err
}

// CreateReminder persists a pending reminder with its absolute due time.
func (s *Store) CreateReminder(userID, text string, minutes int, dueAt time.Time, taskID *uint) (*model.Reminder, error) {
	reminder := &model.Reminder{
		UserID:  userID,
		TaskID:  taskID,
		Text:    text,
		Minutes: minutes,
		DueAt:   dueAt,
	}
	if err := s.db.Create(reminder).Error; err != nil {
		return nil, err
	}
	return reminder, nil
}

// CompleteReminder flips the completed flag and reports whether this call
// performed the flip. The guarded update makes firing idempotent: only one
// of several racing timers observes completed=false.
func (s *Store) CompleteReminder(id uint) (bool, error) {
	res := s.db.Model(&model.Reminder{}).
		Where("id = ? AND completed = ?", id, false).
		Update("completed", true)
	return res.RowsAffected == 1, res.Error
}

// PendingReminders returns every reminder not yet fired, due or not.
func (s *Store) PendingReminders() ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := s.db.Where("completed = ?", false).
		Order("due_at ASC").
		Find(&reminders).Error
	return reminders, err
}

// DueReminders returns unfired reminders whose due time has passed.
func (s *Store) DueReminders(now time.Time) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := s.db.Where("completed = ? AND due_at <= ?", false, now).
		Order("due_at ASC").
		Find(&reminders).Error
	return reminders, err
}
