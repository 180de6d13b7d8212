package core

// EventKind is the exhaustive, closed set of events the core publishes.
// A tagged struct plus this enum stands in for a string-keyed observer
// registry: every subscriber handles Kind with an exhaustive switch
// instead of registering callbacks under ad-hoc capability keys.
type EventKind int

const (
	TaskStageChanged EventKind = iota
	TaskCompleted
	TaskErrored
	FileMissing
	AlreadyProcessed
	WindowPaused
	WindowResumed
	CacheHintCleared
	CacheEntryEvicted
	PoolStatsChanged
)

func (k EventKind) String() string {
	switch k {
	case TaskStageChanged:
		return "TaskStageChanged"
	case TaskCompleted:
		return "TaskCompleted"
	case TaskErrored:
		return "TaskErrored"
	case FileMissing:
		return "FileMissing"
	case AlreadyProcessed:
		return "AlreadyProcessed"
	case WindowPaused:
		return "WindowPaused"
	case WindowResumed:
		return "WindowResumed"
	case CacheHintCleared:
		return "CacheHintCleared"
	case CacheEntryEvicted:
		return "CacheEntryEvicted"
	case PoolStatsChanged:
		return "PoolStatsChanged"
	default:
		return "Unknown"
	}
}

// PoolStats is the payload for PoolStatsChanged, mirroring WorkerPool.Stats.
type PoolStats struct {
	Queued     int
	InFlight   int
	MaxWorkers int
	Paused     bool
}

// Event is a single published occurrence. Only the fields relevant to Kind
// are populated; consumers must switch on Kind before reading payload fields.
type Event struct {
	Kind EventKind

	// Path/Digest/Stage/Err address TaskStageChanged, TaskCompleted,
	// TaskErrored, FileMissing, AlreadyProcessed.
	Path   FilePath
	Digest Digest
	Stage  PipelineStage
	Err    error

	// FaceCount is set for TaskCompleted/AlreadyProcessed.
	FaceCount int

	// Ready/Queued are set for WindowPaused.
	Ready  int
	Queued int

	// Digests is set for CacheHintCleared (digests hinted for eviction) and
	// CacheEntryEvicted (digests actually removed).
	Digests []Digest

	// BytesFreed is set for CacheEntryEvicted.
	BytesFreed int64

	// Stats is set for PoolStatsChanged.
	Stats PoolStats
}
