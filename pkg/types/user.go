package types

import "time"

// UserStatus is the presence status of a user.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusAway    UserStatus = "away"
	StatusOffline UserStatus = "offline"
)

// Valid reports whether s is one of the three known statuses.
func (s UserStatus) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}

// User is the durable identity of a participant together with its liveness
// fields. IsActive implies Status != offline and CurrentConnectionID naming a
// live session.
type User struct {
	ID                  string     `json:"id" bson:"_id"`
	Username            string     `json:"username" bson:"username"`
	IsActive            bool       `json:"isActive" bson:"is_active"`
	Status              UserStatus `json:"status" bson:"status"`
	LastActive          time.Time  `json:"lastActive" bson:"last_active"`
	CurrentConnectionID string     `json:"currentConnectionId,omitempty" bson:"current_connection_id,omitempty"`
	CreatedAt           time.Time  `json:"createdAt" bson:"created_at"`
}

// PublicUser is the projection of a User sent to other clients.
type PublicUser struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	IsActive   bool       `json:"isActive"`
	Status     UserStatus `json:"status"`
	LastActive time.Time  `json:"lastActive"`
}

// Public returns the client-facing projection of u.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Username:   u.Username,
		IsActive:   u.IsActive,
		Status:     u.Status,
		LastActive: u.LastActive,
	}
}
