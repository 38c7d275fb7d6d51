package omapi

// Signal names understood by the runtime.
const (
	SignalDisconnect = "disconnect"
	SignalConnect    = "connect"
	SignalReady      = "ready"
	SignalUpdate     = "update"
)

// Signal is the closed set of event payloads carried down an inner chain.
type Signal interface {
	SignalName() string
	signal()
}

// Disconnect is raised once when a connection reaches StateClosed.
type Disconnect struct {
	Conn Object
}

// Connect is raised when a connection becomes usable.
type Connect struct {
	Conn Object
}

// Ready is raised when a connection holds at least the bytes last required.
type Ready struct {
	Conn  Object
	Bytes int
}

// Update asks an object kind to (re)apply its configuration.
type Update struct{}

func (Disconnect) SignalName() string { return SignalDisconnect }
func (Connect) SignalName() string    { return SignalConnect }
func (Ready) SignalName() string      { return SignalReady }
func (Update) SignalName() string     { return SignalUpdate }

func (Disconnect) signal() {}
func (Connect) signal()    {}
func (Ready) signal()      {}
func (Update) signal()     {}
