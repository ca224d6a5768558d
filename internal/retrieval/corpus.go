// Package retrieval implements the offline knowledge base: corpus loading, a
// TF-IDF similarity index over topics and the threshold-gated responder.
package retrieval

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrEmptyCorpus = errors.New("corpus has no entries")

// Entry is one (topic, details) pair of the offline dataset.
type Entry struct {
	Topic   string `yaml:"topic" json:"topic"`
	Details string `yaml:"details" json:"details"`
}

type yamlCorpus struct {
	Entries []Entry `yaml:"entries"`
}

// LoadCorpus reads a dataset from a .csv file (Topic and Details columns) or
// a .yaml/.yml file (a top-level "entries" list).
func LoadCorpus(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = ParseYAML(f)
	default:
		entries, err = ParseCSV(f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse corpus %s: %w", path, err)
	}
	return entries, nil
}

// ParseCSV reads a CSV dataset whose header names a Topic and a Details column
// (case-insensitive, any position).
func ParseCSV(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyCorpus
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	topicCol, detailsCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "topic":
			topicCol = i
		case "details":
			detailsCol = i
		}
	}
	if topicCol < 0 || detailsCol < 0 {
		return nil, fmt.Errorf("header must contain Topic and Details columns, got %v", header)
	}

	var entries []Entry
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}
		if len(record) <= topicCol || len(record) <= detailsCol {
			return nil, fmt.Errorf("row %d has %d fields, expected at least %d", line, len(record), max(topicCol, detailsCol)+1)
		}
		entries = append(entries, Entry{
			Topic:   strings.TrimSpace(record[topicCol]),
			Details: strings.TrimSpace(record[detailsCol]),
		})
	}
	return entries, validate(entries)
}

func ParseYAML(r io.Reader) ([]Entry, error) {
	var doc yamlCorpus
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptyCorpus
		}
		return nil, fmt.Errorf("failed to decode yaml: %w", err)
	}
	for i := range doc.Entries {
		doc.Entries[i].Topic = strings.TrimSpace(doc.Entries[i].Topic)
	}
	return doc.Entries, validate(doc.Entries)
}

func validate(entries []Entry) error {
	if len(entries) == 0 {
		return ErrEmptyCorpus
	}
	for i, e := range entries {
		if e.Topic == "" {
			return fmt.Errorf("entry %d has an empty topic", i+1)
		}
	}
	return nil
}
