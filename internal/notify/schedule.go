package notify

import "time"

// Reminder is a recurring local notification.
type Reminder struct {
	Name  string
	Title string
	Body  string
	URL   string
	next  func(now time.Time) time.Time
}

var (
	DailyReflection = Reminder{
		Name:  "daily-reflection",
		Title: "Miroir Reflection Reminder",
		Body:  "Take a moment to reflect on your day. What truth emerged today?",
		URL:   "/my-miroir.html",
		next:  NextDailyReminder,
	}

	WeeklyDigest = Reminder{
		Name:  "weekly-digest",
		Title: "Miroir Weekly Reflection",
		Body:  "Your weekly reflection digest is ready. Review your journey this week.",
		URL:   "/timeline.html",
		next:  NextWeeklyDigest,
	}
)

// Next returns when the reminder fires after now.
func (r Reminder) Next(now time.Time) time.Time {
	return r.next(now)
}

// Notification builds the notification shown when the reminder fires at now.
func (r Reminder) Notification(now time.Time) *Notification {
	return &Notification{
		Title: r.Title,
		Body:  r.Body,
		Icon:  Icon,
		Badge: Icon,
		Tag:   "miroir-local",
		Data: Data{
			DateOfArrival: now.UnixMilli(),
			PrimaryKey:    r.Name,
			URL:           r.URL,
		},
	}
}

// NextDailyReminder returns the next 19:00 strictly after now.
func NextDailyReminder(now time.Time) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), 19, 0, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// NextWeeklyDigest returns the next Sunday 10:00 strictly after now.
func NextWeeklyDigest(now time.Time) time.Time {
	days := (7 - int(now.Weekday())) % 7
	at := time.Date(now.Year(), now.Month(), now.Day()+days, 10, 0, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 7)
	}
	return at
}
