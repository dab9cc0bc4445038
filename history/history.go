// Package history discovers the batches recorded below an output directory.
package history

// This file contains shared history utilities for loading and parsing
// batch records.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/perfgo/simrun/model"
	"github.com/rs/zerolog"
)

// ErrNoBatches is returned when the output root does not exist.
var ErrNoBatches = errors.New("no batches found")

type Entry struct {
	Batch    model.Batch
	FullPath string
}

// CheckRoot verifies that the output root exists and is a directory.
func CheckRoot(outputRoot string) error {
	info, err := os.Stat(outputRoot)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w in %s", ErrNoBatches, outputRoot)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", outputRoot)
	}
	return nil
}

// LoadEntries loads all batch records below the output root, newest first.
// Run directories are not descended into once a batch record is found.
func LoadEntries(logger zerolog.Logger, outputRoot string) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(outputRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}

		batchPath := filepath.Join(path, model.BatchFile)
		if _, err := os.Stat(batchPath); err != nil {
			return nil
		}

		batch, err := parseBatchJSON(batchPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", batchPath).Msg("Failed to parse batch.json")
			return nil
		}

		entries = append(entries, Entry{
			Batch:    batch,
			FullPath: path,
		})
		return filepath.SkipDir
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk output directory: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Batch.Timestamp.After(entries[j].Batch.Timestamp)
	})

	return entries, nil
}

// parseBatchJSON parses a batch.json file.
func parseBatchJSON(batchPath string) (model.Batch, error) {
	data, err := os.ReadFile(batchPath)
	if err != nil {
		return model.Batch{}, err
	}

	var batch model.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return model.Batch{}, err
	}

	return batch, nil
}
