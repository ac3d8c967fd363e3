package models

import (
	"fmt"
	"strings"
)

// Status is the reported condition of a checkpoint.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusInquiry
	StatusClosed
	StatusCongested
	StatusClear
	StatusCheckpointPresent
	StatusAccident
	StatusOpened
)

// UnknownLabel is the Arabic wire value shared by every unresolved field.
const UnknownLabel = "غير محدد"

var statusNames = [...]string{
	StatusUnknown:           "unknown",
	StatusInquiry:           "inquiry",
	StatusClosed:            "closed",
	StatusCongested:         "congested",
	StatusClear:             "clear",
	StatusCheckpointPresent: "checkpoint_present",
	StatusAccident:          "accident",
	StatusOpened:            "opened",
}

var statusLabels = [...]string{
	StatusUnknown:           UnknownLabel,
	StatusInquiry:           "استفسار",
	StatusClosed:            "إغلاق",
	StatusCongested:         "أزمة",
	StatusClear:             "سالك",
	StatusCheckpointPresent: "حاجز/تفتيش",
	StatusAccident:          "حادث",
	StatusOpened:            "فتح",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return statusNames[StatusUnknown]
}

// Label returns the Arabic value persisted to the event store.
func (s Status) Label() string {
	if int(s) < len(statusLabels) {
		return statusLabels[s]
	}
	return UnknownLabel
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus accepts either the English identifier or the Arabic label.
func ParseStatus(raw string) (Status, error) {
	raw = strings.TrimSpace(raw)
	for i := range statusNames {
		if strings.EqualFold(raw, statusNames[i]) || raw == statusLabels[i] {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown status %q", raw)
}

// Direction is the traffic direction a report refers to.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionEntry
	DirectionExit
	DirectionBoth
)

var directionNames = [...]string{
	DirectionUnknown: "unknown",
	DirectionEntry:   "entry",
	DirectionExit:    "exit",
	DirectionBoth:    "both",
}

var directionLabels = [...]string{
	DirectionUnknown: UnknownLabel,
	DirectionEntry:   "دخول",
	DirectionExit:    "خروج",
	DirectionBoth:    "الاتجاهين",
}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return directionNames[DirectionUnknown]
}

func (d Direction) Label() string {
	if int(d) < len(directionLabels) {
		return directionLabels[d]
	}
	return UnknownLabel
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func ParseDirection(raw string) (Direction, error) {
	raw = strings.TrimSpace(raw)
	for i := range directionNames {
		if strings.EqualFold(raw, directionNames[i]) || raw == directionLabels[i] {
			return Direction(i), nil
		}
	}
	return DirectionUnknown, fmt.Errorf("unknown direction %q", raw)
}
