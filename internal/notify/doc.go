// Package notify turns push payloads and reminder schedules into notifications.
//
// A push payload is plain text. [FromPush] wraps it in the Miroir notification
// template (title, icon, vibration pattern and the explore/close actions), and [Click]
// maps an action back to the page it opens.
//
// # Preferences
//
// [Preferences] are stored as flat keys in the preference store:
//
//	notifications.enabled               true
//	notifications.new_stories           true
//	notifications.reflection_reminders  true
//	notifications.weekly_digest         true
//	notifications.quiet_start           22
//	notifications.quiet_end             8
//
// Quiet hours are the half-open hour range [start, end) and wrap past midnight
// when start is after end. Equal bounds mean no quiet hours.
//
// # Reminders
//
// Two local reminders exist: a daily reflection reminder at 19:00 and a weekly
// digest on Sunday at 10:00. [NextDailyReminder] and [NextWeeklyDigest] return the
// next fire time strictly after now, in now's location.
package notify
