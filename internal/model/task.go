package model

import "time"

// Repeat enumerates recurrence rules for a task.
type Repeat string

const (
	RepeatNone    Repeat = "none"
	RepeatHourly  Repeat = "hourly"
	RepeatDaily   Repeat = "daily"
	RepeatWeekly  Repeat = "weekly"
	RepeatMonthly Repeat = "monthly"
	RepeatYearly  Repeat = "yearly"
	RepeatCustom  Repeat = "custom" // every RepeatEveryMinutes minutes
)

// Task statuses. Status is a derived cache: done is reachable only via
// explicit completion, otherwise a task is overdue iff its due instant
// has passed.
const (
	StatusActive  = "active"
	StatusDone    = "done"
	StatusOverdue = "overdue"
)

// Task represents a single occurrence of a reminder item.
// The delivery-tracking timestamps are written only by the scheduler,
// always through guarded updates.
type Task struct {
	ID       uint  `gorm:"primaryKey"`
	UserID   uint  `gorm:"index"`
	ChatID   int64 `gorm:"index"`
	Title    string
	Category string

	DueAt              *time.Time `gorm:"index"`
	ReminderAt         *time.Time `gorm:"index"`
	RemindBefore       time.Duration
	Repeat             Repeat `gorm:"default:none"`
	RepeatEveryMinutes int

	ReminderSentAt   *time.Time
	DueNotifiedAt    *time.Time
	LastRepeatSentAt *time.Time
	SpawnedNext      bool `gorm:"default:false"`

	Status    string `gorm:"default:active;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Stage is the explicit notification state of one occurrence.
type Stage int

const (
	StagePending Stage = iota
	StagePreReminded
	StageDueNotified
)

func (s Stage) String() string {
	switch s {
	case StagePreReminded:
		return "pre_reminded"
	case StageDueNotified:
		return "due_notified"
	default:
		return "pending"
	}
}

// Stage derives the occurrence state from the stored delivery
// timestamps. DueNotified is terminal for a non-repeating task; a task
// without a reminder offset goes straight from Pending to DueNotified.
func (t *Task) Stage() Stage {
	switch {
	case t.DueNotifiedAt != nil:
		return StageDueNotified
	case t.ReminderSentAt != nil:
		return StagePreReminded
	default:
		return StagePending
	}
}

// IsRepeating reports whether the task produces successor occurrences.
func (t *Task) IsRepeating() bool {
	return t.Repeat != "" && t.Repeat != RepeatNone
}
