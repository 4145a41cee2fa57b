package domain

import "time"

type AlarmState string

const (
	AlarmStateOK    AlarmState = "OK"
	AlarmStateAlarm AlarmState = "ALARM"
)

// Alert is delivered through the notification channel when an alarm
// transitions into ALARM.
type Alert struct {
	Alarm    string     `json:"alarm"`
	Function string     `json:"function"`
	Topic    string     `json:"topic"`
	State    AlarmState `json:"state"`
	Value    float64    `json:"value"`
	Reason   string     `json:"reason"`

	WindowStart time.Time `json:"window_start"`
	At          time.Time `json:"at"`
}
