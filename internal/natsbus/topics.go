package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicIPC carries request/reply commands from wxctl and other local tools.
const TopicIPC = "host.ipc"

func TopicEventsRun(runID string) string {
	return fmt.Sprintf("events.run.%s", runID)
}

func TopicEventsSchedule(scheduleID string) string {
	return fmt.Sprintf("events.schedule.%s", scheduleID)
}

const (
	TopicEventsAll       = "events.>"
	TopicEventsRuns      = "events.run.*"
	TopicEventsSchedules = "events.schedule.*"
)
