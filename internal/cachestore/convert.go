package cachestore

import (
	"fmt"

	"github.com/eventlens/eventlens/core"
)

var stageNameToValue = map[string]core.PipelineStage{
	core.Hashing.String():              core.Hashing,
	core.DecodingRaw.String():          core.DecodingRaw,
	core.DetectingFaces.String():       core.DetectingFaces,
	core.GeneratingThumbnails.String(): core.GeneratingThumbnails,
}

// artifactToEntry converts an in-memory Artifact into the on-disk schema
// persisted at index/<digest>.json.
func artifactToEntry(a core.Artifact, size int64) *entry {
	bboxes := make([][4]int, len(a.FaceBBoxes))
	for i, b := range a.FaceBBoxes {
		bboxes[i] = [4]int{b.X, b.Y, b.W, b.H}
	}
	stages := make([]string, 0, len(a.StagesDone))
	for _, st := range a.StagesDone.Slice() {
		stages = append(stages, st.String())
	}
	return &entry{
		FaceCount:   a.FaceCount,
		BBoxes:      bboxes,
		StagesDone:  stages,
		CompletedAt: int64(a.CompletedAt),
		HasPreview:  a.DecodedPreview != "",
		SizeBytes:   size,
	}
}

// entryToArtifact converts the on-disk schema back to an Artifact.
// DecodedPreview is left empty here (the on-disk schema only carries a
// HasPreview boolean, not a path); the caller reconstructs the actual path
// from the digest once it knows which digest this entry belongs to.
func entryToArtifact(e *entry) (art core.Artifact, hasPreview bool, size int64, err error) {
	bboxes := make([]core.BBox, len(e.BBoxes))
	for i, b := range e.BBoxes {
		bboxes[i] = core.BBox{X: b[0], Y: b[1], W: b[2], H: b[3]}
	}
	stages := core.StageSet{}
	for _, name := range e.StagesDone {
		st, ok := stageNameToValue[name]
		if !ok {
			return core.Artifact{}, false, 0, fmt.Errorf("unknown pipeline stage %q in cache entry", name)
		}
		stages = stages.Add(st)
	}

	art = core.Artifact{
		FaceCount:         e.FaceCount,
		FaceBBoxes:        bboxes,
		ThumbnailsPresent: stages.Has(core.GeneratingThumbnails),
		CompletedAt:       uint64(e.CompletedAt),
		StagesDone:        stages,
	}
	return art, e.HasPreview, e.SizeBytes, nil
}
