package models

import "time"

// Stage is a step of item processing.
type Stage string

const (
	StageMetadata    Stage = "metadata"
	StageDownloading Stage = "downloading"
	StageRemuxing    Stage = "remuxing"
	StageEncoding    Stage = "encoding"
	StageUploading   Stage = "uploading"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// ProgressEvent is emitted by the engines while an item is processed.
type ProgressEvent struct {
	Title   string
	Stage   Stage
	Percent float64 // 0..100
	Peers   int
	Rate    int64 // bytes per second
	Done    int64
	Total   int64
	Note    string
	At      time.Time
}
