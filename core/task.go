package core

import "fmt"

// BBox is an integer face bounding box in detector-output order. Order is
// fixed and never re-sorted.
type BBox struct {
	X, Y, W, H int
}

// Artifact is the per-digest cache record produced by a successful pipeline
// run.
type Artifact struct {
	// DecodedPreview is the path to a decoded JPEG preview, populated only
	// for RAW inputs whose decode succeeded. Empty otherwise.
	DecodedPreview string
	// FaceCount is the number of detected faces.
	FaceCount int
	// FaceBBoxes is the ordered list of detected bounding boxes.
	FaceBBoxes []BBox
	// ThumbnailsPresent reports whether a thumbnail exists for every face.
	ThumbnailsPresent bool
	// CompletedAt is a monotonic timestamp (core.Clock.Now()), re-seeded
	// from filesystem mtime across restarts.
	CompletedAt uint64
	// StagesDone is the subset of PipelineStage completed for this digest.
	StagesDone StageSet
}

// Validate checks the CacheEntry invariants
func (a Artifact) Validate() error {
	if len(a.StagesDone) == 0 {
		return fmt.Errorf("%w: artifact has no completed stages", ErrInvariantViolation)
	}
	if a.ThumbnailsPresent && a.FaceCount != len(a.FaceBBoxes) {
		return fmt.Errorf("%w: thumbnails_present requires face_count == len(bboxes), got %d != %d",
			ErrInvariantViolation, a.FaceCount, len(a.FaceBBoxes))
	}
	return nil
}

// TaskOutcome is the closed set of terminal reasons a Task can end in,
// beyond the success path (Completed/AlreadyProcessed).
type TaskOutcome int

const (
	// OutcomeCompleted: all mandatory stages succeeded and the artifact was
	// admitted; a failed admission ends the task as OutcomeErrored.
	OutcomeCompleted TaskOutcome = iota
	// OutcomeAlreadyProcessed: the cache probe short-circuited the run.
	OutcomeAlreadyProcessed
	// OutcomeErrored: a mandatory stage failed.
	OutcomeErrored
	// OutcomeMissingFile: ContentHasher could not find the file.
	OutcomeMissingFile
)

func (o TaskOutcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "Completed"
	case OutcomeAlreadyProcessed:
		return "AlreadyProcessed"
	case OutcomeErrored:
		return "Errored"
	case OutcomeMissingFile:
		return "MissingFile"
	default:
		return "Unknown"
	}
}

// TaskState is the terminal result of running one file path through the
// pipeline. Only Pending and Running (modeled by the pool/worker, not here)
// are in-flight; every TaskState value constructed by a PipelineWorker is
// terminal.
type TaskState struct {
	Path    FilePath
	Outcome TaskOutcome

	// Digest is set whenever hashing succeeded (Completed, AlreadyProcessed,
	// and Errored states that occur after the Hashing stage).
	Digest Digest
	// Artifact is set only for OutcomeCompleted / OutcomeAlreadyProcessed.
	Artifact Artifact

	// Stage and Err are set only for OutcomeErrored.
	Stage PipelineStage
	Err   error
}

func (t TaskState) String() string {
	switch t.Outcome {
	case OutcomeErrored:
		return fmt.Sprintf("Errored(%s, %v)", t.Stage, t.Err)
	case OutcomeMissingFile:
		return fmt.Sprintf("MissingFile(%s)", t.Path)
	case OutcomeAlreadyProcessed:
		return fmt.Sprintf("AlreadyProcessed(%s)", t.Digest)
	default:
		return fmt.Sprintf("Completed(%s)", t.Digest)
	}
}
