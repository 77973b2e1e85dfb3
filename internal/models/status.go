package models

// ConnectionStatus is the health of the tick transport as seen by the snapshot store.
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
)

// AllStatuses lists every status, in state machine order.
var AllStatuses = []ConnectionStatus{StatusConnecting, StatusConnected, StatusDisconnected, StatusError}
