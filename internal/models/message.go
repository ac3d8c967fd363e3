package models

import "time"

// Unknown is the value of an unresolved checkpoint or city.
const Unknown = "unknown"

// MediaPlaceholder replaces the text of messages that carry only media.
const MediaPlaceholder = "[Media message]"

// RawMessage is a message as returned by a source, before classification.
type RawMessage struct {
	MessageID int64
	ChannelID string
	Text      string
	// Date is set by sources that deliver a typed instant.
	Date time.Time
	// DateText carries string timestamps, possibly without an offset.
	DateText string
	HasMedia bool
}

// Body returns the text to classify and persist.
func (m RawMessage) Body() string {
	if m.Text == "" && m.HasMedia {
		return MediaPlaceholder
	}
	return m.Text
}

// ClassifiedEvent is one structured checkpoint report.
type ClassifiedEvent struct {
	MessageID       int64
	SourceChannel   string
	OriginalMessage string
	CheckpointName  string
	CityName        string
	Status          Status
	Direction       Direction
	CleanedText     string
	MessageDate     time.Time
	MessageDateText string
}

// Resolved reports whether a concrete checkpoint was found.
func (e ClassifiedEvent) Resolved() bool {
	return e.CheckpointName != "" && e.CheckpointName != Unknown
}
