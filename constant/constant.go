package constant

type RecordingStatus string

const (
	RecordingStatusInitializing RecordingStatus = "initializing"
	RecordingStatusRecording    RecordingStatus = "recording"
	RecordingStatusPaused       RecordingStatus = "paused"
	RecordingStatusStopping     RecordingStatus = "stopping"
	RecordingStatusCompleted    RecordingStatus = "completed"
	RecordingStatusFailed       RecordingStatus = "failed"
)

// Terminal reports whether no further transitions are expected without an
// explicit retry.
func (s RecordingStatus) Terminal() bool {
	return s == RecordingStatusCompleted || s == RecordingStatusFailed
}

func (s RecordingStatus) String() string {
	return string(s)
}

type MessageType string

const (
	MessageTypeStart  MessageType = "start"
	MessageTypeFrame  MessageType = "frame"
	MessageTypeAudio  MessageType = "audio"
	MessageTypePause  MessageType = "pause"
	MessageTypeResume MessageType = "resume"
	MessageTypeStop   MessageType = "stop"
	MessageTypeStatus MessageType = "status"
)

type EventType string

const (
	EventRecordingStarted   EventType = "recording.started"
	EventRecordingPaused    EventType = "recording.paused"
	EventRecordingResumed   EventType = "recording.resumed"
	EventRecordingCompleted EventType = "recording.completed"
	EventRecordingFailed    EventType = "recording.failed"
)

type ControlAction string

const (
	ControlActionPause  ControlAction = "pause"
	ControlActionResume ControlAction = "resume"
	ControlActionStop   ControlAction = "stop"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
