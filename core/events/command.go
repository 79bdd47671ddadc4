package events

import (
	"encoding/json"
	"time"

	"github.com/gridsingularity/d3a/core/model"
)

// CommandEvent is published for every participant command outcome.
// Stage is "validation" for synchronous rejections and "execution" for
// commands drained from the queue.
type CommandEvent struct {
	Device    string
	Slot      model.TimeSlot
	Command   string
	Stage     string
	Status    string
	Error     string
	Arguments map[string]any
	Response  json.RawMessage
	Duration  time.Duration
	Time      time.Time
}
