package model

import "time"

// Reminder is a one-shot reminder for a WhatsApp user. DueAt is the absolute
// fire time, so pending reminders survive a restart and can be re-armed.
// TaskID is a weak link: deleting the task does not cascade here.
type Reminder struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"index;not null"`
	TaskID    *uint
	Text      string    `gorm:"type:text;not null"`
	Minutes   int       `gorm:"not null"`
	DueAt     time.Time `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	Completed bool      `gorm:"default:false"`
}
