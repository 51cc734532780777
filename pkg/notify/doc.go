// Package notify raises in-app notifications and records community surveys.
//
// Notifications are created for import results (the task owner and the
// namespace owners), for new collection releases and for new surveys. A
// recipient only receives the types enabled in their preferences; new users
// receive everything except import successes.
package notify
