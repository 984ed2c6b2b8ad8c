package dataset

import (
	"fmt"
	"time"

	"salecollect/server/internal/models"
)

const assemblyTimestampLayout = "2006-01-02T15:04:05.000000"

// Options controls dataset assembly.
type Options struct {
	// DatasetID overrides the default dataset identifier when non-empty.
	DatasetID string

	// DeduplicateSales keeps only the latest sale (by settlement date) for
	// each (property_id, unit_number) pair. Off by default: the upstream
	// feed's consumers expect every recorded transaction.
	DeduplicateSales bool
}

// Assembler builds dataset envelopes around ordered event sequences.
type Assembler struct {
	now func() time.Time
}

func NewAssembler() *Assembler {
	return &Assembler{now: time.Now}
}

// Assemble wraps the events into a dataset stamped with the current time.
// It returns nil for an empty event sequence; callers must treat that as a
// no-data rejection, never as a valid empty dataset. Event order is
// preserved; no per-event validation happens here.
func (a *Assembler) Assemble(events []models.Event, opts Options) *models.Dataset {
	if len(events) == 0 {
		return nil
	}
	if opts.DeduplicateSales {
		events = deduplicate(events)
	}

	datasetID := opts.DatasetID
	if datasetID == "" {
		datasetID = models.DefaultDatasetID
	}

	timeObject := models.NewTimeObject(a.now().Format(assemblyTimestampLayout))
	timeObject.DurationUnit = "seconds"

	return &models.Dataset{
		DataSource:  models.DataSource,
		DatasetType: models.DatasetTypeSales,
		DatasetID:   datasetID,
		TimeObject:  timeObject,
		Events:      events,
	}
}

// deduplicate keeps, for each (property_id, unit_number) pair, the event
// with the latest parseable settlement date. The surviving event stays at
// the position of the pair's first occurrence.
func deduplicate(events []models.Event) []models.Event {
	type slot struct {
		index   int
		settled time.Time
		ok      bool
	}

	result := make([]models.Event, 0, len(events))
	seen := make(map[string]slot)

	for _, event := range events {
		attr := event.Attribute
		unit := ""
		if attr.UnitNumber != nil {
			unit = *attr.UnitNumber
		}
		key := fmt.Sprintf("%d|%s", *attr.PropertyID, unit)

		settled, err := time.Parse("2006-01-02", attr.SettlementDate)
		parsed := err == nil

		prev, exists := seen[key]
		if !exists {
			seen[key] = slot{index: len(result), settled: settled, ok: parsed}
			result = append(result, event)
			continue
		}
		// Replace only when the new settlement date is later; an
		// unparseable date never displaces a parseable one.
		if parsed && (!prev.ok || settled.After(prev.settled)) {
			result[prev.index] = event
			seen[key] = slot{index: prev.index, settled: settled, ok: true}
		}
	}
	return result
}
