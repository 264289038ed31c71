// Package feedback stores physicians' verdicts on AI drafts.
// Each entry is a comparison between what the assistant proposed and what the
// physician finally signed, kept as history even after the patient is deleted.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/medical-examination-assistant/internal/domain"
)

// ExportVersion is the version written into export envelopes
const ExportVersion = "1.0"

// Store defines the interface for comparison storage operations.
type Store interface {
	// Save stores a comparison, assigning ID and Timestamp when empty.
	// An existing ID is overwritten.
	Save(ctx context.Context, record *domain.ComparisonRecord) error

	// Get returns the comparison or an error wrapping domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.ComparisonRecord, error)

	// List returns comparisons newest first.
	List(ctx context.Context, limit, offset int) ([]*domain.ComparisonRecord, error)

	// ListBySession returns the comparisons of one examination session, newest first.
	ListBySession(ctx context.Context, sessionID string) ([]*domain.ComparisonRecord, error)

	Count(ctx context.Context) (int64, error)

	// AverageScore returns the mean match score, 0 when empty.
	AverageScore(ctx context.Context) (float64, error)

	Delete(ctx context.Context, id string) error

	// ExportJSON writes every comparison in a versioned envelope.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON reads an envelope; ids already present are skipped.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	Close() error
}

// ComparisonExport represents the JSON export format.
type ComparisonExport struct {
	Version     string                     `json:"version"`
	ExportedAt  time.Time                  `json:"exported_at"`
	Count       int                        `json:"count"`
	Comparisons []*domain.ComparisonRecord `json:"comparisons"`
}

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// prepare fills generated fields before a write
func prepare(record *domain.ComparisonRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.Comparison.Differences == nil {
		record.Comparison.Differences = []string{}
	}
}

// encodedRecord holds the JSON columns of a comparison row
type encodedRecord struct {
	ai, doctor, comparison []byte
}

func encode(record *domain.ComparisonRecord) (*encodedRecord, error) {
	ai, err := json.Marshal(record.AIResults)
	if err != nil {
		return nil, fmt.Errorf("encoding ai results: %w", err)
	}
	doctor, err := json.Marshal(record.DoctorResults)
	if err != nil {
		return nil, fmt.Errorf("encoding doctor results: %w", err)
	}
	comparison, err := json.Marshal(record.Comparison)
	if err != nil {
		return nil, fmt.Errorf("encoding comparison: %w", err)
	}
	return &encodedRecord{ai: ai, doctor: doctor, comparison: comparison}, nil
}

func (e *encodedRecord) decodeInto(record *domain.ComparisonRecord) error {
	if err := json.Unmarshal(e.ai, &record.AIResults); err != nil {
		return fmt.Errorf("decoding ai results: %w", err)
	}
	if err := json.Unmarshal(e.doctor, &record.DoctorResults); err != nil {
		return fmt.Errorf("decoding doctor results: %w", err)
	}
	if err := json.Unmarshal(e.comparison, &record.Comparison); err != nil {
		return fmt.Errorf("decoding comparison: %w", err)
	}
	return nil
}

func writeExport(writer io.Writer, all []*domain.ComparisonRecord) error {
	if all == nil {
		all = []*domain.ComparisonRecord{}
	}
	export := &ComparisonExport{
		Version:     ExportVersion,
		ExportedAt:  time.Now().UTC(),
		Count:       len(all),
		Comparisons: all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// importRecords saves every record whose id is not yet stored
func importRecords(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export ComparisonExport
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, record := range export.Comparisons {
		if record.ID != "" {
			if _, err := s.Get(ctx, record.ID); err == nil {
				skipped++
				continue
			} else if !isNotFound(err) {
				return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
			}
		}

		if err := s.Save(ctx, record); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}
