package models

import "time"

// Content is the display record shared by every notification source.
type Content struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Data  map[string]interface{} `json:"data"`
}

// Notification is a notification delivered while the app is in the foreground.
type Notification struct {
	ID      string    `json:"id"`
	Date    time.Time `json:"date"`
	Content Content   `json:"content"`
}

// NotificationResponse wraps a notification the user interacted with.
type NotificationResponse struct {
	ActionIdentifier string       `json:"action_identifier"`
	Notification     Notification `json:"notification"`
}

// DefaultActionIdentifier is reported when the user taps the notification body.
const DefaultActionIdentifier = "expo.modules.notifications.actions.DEFAULT"
