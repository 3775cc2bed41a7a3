package core

// Connection states.
const (
	StateFree = iota
	StateReading
	StateWriting
	StateKeepAlive
	StateClosing
)

// Reactor and buffer sizing. The read buffer holds the full request ceiling
// so an exactly-MaxRequestSize head is accepted and the next byte closes the
// connection.
const (
	ReadBufferSize    = 8192
	MaxRequestSize    = 8192
	HeaderScratchSize = 512

	MaxEventsPerLoop  = 2048
	MaxAcceptsPerLoop = 128
	MaxReadAttempts   = 8
	MaxWriteAttempts  = 16
	microBatchSize    = 32

	sendBufSize = 65536
	recvBufSize = 32768

	// Infinite timer waits are clamped so the shutdown flag is observed.
	maxPollWaitMS = 1000
)

// Default timeouts, overridable through Options.
const (
	DefaultRequestTimeoutMS   = 5000
	DefaultKeepAliveTimeoutMS = 10000
)
