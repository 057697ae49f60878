package types

import "time"

// MaxContentLength is the maximum message length in characters.
const MaxContentLength = 2000

// MessageType classifies a chat message.
type MessageType string

const (
	MessageText         MessageType = "text"
	MessageSystem       MessageType = "system"
	MessageNotification MessageType = "notification"
	MessageAnnouncement MessageType = "announcement"
)

// MessageTypes lists every known message type in a stable order.
var MessageTypes = []MessageType{MessageText, MessageSystem, MessageNotification, MessageAnnouncement}

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	for _, k := range MessageTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Message is one entry of the chat log. SenderName is denormalized at
// creation time and never rewritten.
type Message struct {
	ID         string      `json:"id" bson:"_id"`
	SenderID   string      `json:"sender" bson:"sender_id"`
	SenderName string      `json:"senderName" bson:"sender_name"`
	Content    string      `json:"content" bson:"content"`
	Type       MessageType `json:"messageType" bson:"type"`
	IsEdited   bool        `json:"isEdited" bson:"is_edited"`
	EditedAt   *time.Time  `json:"editedAt,omitempty" bson:"edited_at,omitempty"`
	IsDeleted  bool        `json:"isDeleted" bson:"is_deleted"`
	DeletedAt  *time.Time  `json:"deletedAt,omitempty" bson:"deleted_at,omitempty"`
	CreatedAt  time.Time   `json:"createdAt" bson:"created_at"`
}
