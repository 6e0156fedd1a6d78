package clientfsm

// State is one of the six states of the client state machine (spec.md §4.7).
type State string

const (
	Disconnected          State = "DISCONNECTED"
	Connecting            State = "CONNECTING"
	Connected             State = "CONNECTED"
	UploadDataAvailable   State = "UPLOAD_DATA_AVAILABLE"
	PreparingReadyForTest State = "PREPARING_READY_FOR_TEST"
	OfflineTesting        State = "OFFLINE_TESTING"
)
