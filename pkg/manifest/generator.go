package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/dtnitsch/wcmr/pkg/mapreduce"
	"github.com/dtnitsch/wcmr/pkg/output"
	"github.com/dtnitsch/wcmr/pkg/storage"
	"gopkg.in/yaml.v3"
)

// Build assembles the manifest of a successful job.
func Build(name string, inputs []string, report *mapreduce.Report, files []output.PartitionFile) JobManifest {
	m := JobManifest{
		JobID:       report.JobID,
		Name:        name,
		StartedAt:   report.Started,
		FinishedAt:  report.Finished,
		Duration:    report.Finished.Sub(report.Started).String(),
		Inputs:      inputs,
		Partitions:  append([]output.PartitionFile(nil), files...),
		Counters:    report.Counters,
		TopKeywords: mapreduce.FormatKeywords(report.Top),
	}

	for _, s := range report.Splits {
		m.Splits = append(m.Splits, SplitSummary{Index: s.Index, Location: s.String()})
	}

	// Paths are stored relative to the output directory so it can be moved.
	for i := range m.Partitions {
		m.Partitions[i].Path = filepath.Base(m.Partitions[i].Path)
	}

	if len(report.Languages) > 0 {
		m.Languages = report.Languages
	}
	return m
}

// Write saves the manifest into dir and returns its path.
func Write(dir string, m JobManifest, s *storage.Storage) (string, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("error marshalling manifest: %w", err)
	}

	manifestPath := filepath.Join(dir, FileName)
	if err := s.SaveFile(manifestPath, data); err != nil {
		return "", fmt.Errorf("error saving manifest: %w", err)
	}
	return manifestPath, nil
}

// Load reads the manifest from an output directory.
func Load(dir string, s *storage.Storage) (*JobManifest, error) {
	data, err := s.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}

	var m JobManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("error parsing manifest: %w", err)
	}
	return &m, nil
}
