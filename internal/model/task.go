package model

import "time"

// Task statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Task is a single to-do item belonging to one user.
type Task struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"index;not null"`
	Text      string `gorm:"type:text;not null"`
	Status    string `gorm:"default:pending"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
