package core

// WorkerStats counts per-worker traffic and error kinds. Each worker owns
// its counters exclusively, so they are plain integers; the server reads
// them only after the worker has exited. These are the metric hooks for the
// error taxonomy: a close path charges at most one kind, and orderly closes
// (a drained response without keep-alive, shutdown teardown) charge none.
type WorkerStats struct {
	EventsProcessed     uint64
	ConnectionsAccepted uint64
	RequestsServed      uint64
	BytesRead           uint64
	BytesWritten        uint64

	ClientDisconnects uint64
	FatalIOErrors     uint64
	ProtocolErrors    uint64
	Timeouts          uint64
	PoolExhausted     uint64
	TimerExhausted    uint64
	InternalOverflows uint64
}

// Add accumulates other into s.
func (s *WorkerStats) Add(other *WorkerStats) {
	s.EventsProcessed += other.EventsProcessed
	s.ConnectionsAccepted += other.ConnectionsAccepted
	s.RequestsServed += other.RequestsServed
	s.BytesRead += other.BytesRead
	s.BytesWritten += other.BytesWritten
	s.ClientDisconnects += other.ClientDisconnects
	s.FatalIOErrors += other.FatalIOErrors
	s.ProtocolErrors += other.ProtocolErrors
	s.Timeouts += other.Timeouts
	s.PoolExhausted += other.PoolExhausted
	s.TimerExhausted += other.TimerExhausted
	s.InternalOverflows += other.InternalOverflows
}
