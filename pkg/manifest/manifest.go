package manifest

import (
	"time"

	"github.com/dtnitsch/wcmr/pkg/mapreduce"
	"github.com/dtnitsch/wcmr/pkg/output"
)

// FileName is the manifest written next to committed partitions. The leading
// underscore keeps it out of inputs when the directory is read by a later job.
const FileName = "_manifest.yaml"

// JobManifest describes a committed job output.
// It lets readers find partitions, verify them, and see the top keywords
// without opening any part file.
type JobManifest struct {
	JobID       string                 `yaml:"job_id"`
	Name        string                 `yaml:"name"`
	StartedAt   time.Time              `yaml:"started_at"`
	FinishedAt  time.Time              `yaml:"finished_at"`
	Duration    string                 `yaml:"duration"`
	Inputs      []string               `yaml:"inputs"`
	Splits      []SplitSummary         `yaml:"splits"`
	Partitions  []output.PartitionFile `yaml:"partitions"`
	Counters    mapreduce.Counters     `yaml:"counters"`
	TopKeywords []string               `yaml:"top_keywords,omitempty"`
	Languages   map[string]int         `yaml:"languages,omitempty"`
}

// SplitSummary identifies one map task's input.
type SplitSummary struct {
	Index    int    `yaml:"index"`
	Location string `yaml:"location"`
}
