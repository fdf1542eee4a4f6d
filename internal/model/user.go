package model

import "time"

// UsernameNotProvided is stored when the platform supplies no alias for a user.
const UsernameNotProvided = "Not provided"

// User is a registered WhatsApp user, keyed by the platform phone number.
type User struct {
	ID           string `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Username     string
	RegisteredAt time.Time
}
