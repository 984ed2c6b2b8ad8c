package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"salecollect/server/internal/models"
)

// RecordConfig holds the key-value collaborator's settings.
type RecordConfig struct {
	Addr     string
	Password string
	DB       int
	// Table is the key prefix acting as the record collection name.
	Table string
	// Batched write sizing and retry policy.
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// RecordStore persists decoded sale records into a key-value store. Writes
// are batched through pipelines; records without a property_id are dropped
// before the call and partial-batch failures come back as one aggregate
// error.
type RecordStore struct {
	client     *redis.Client
	table      string
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Logger
}

func NewRecordStore(cfg RecordConfig, logger *logrus.Logger) (*RecordStore, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("record store table name is not configured")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 25
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to key-value store at %s: %w", cfg.Addr, err)
	}

	return &RecordStore{
		client:     client,
		table:      cfg.Table,
		batchSize:  cfg.BatchSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

func (s *RecordStore) Close() error {
	return s.client.Close()
}

// InsertEvents writes the events' records in batches, keyed by transaction
// id. It returns the number of records written and, when some batches
// failed, one aggregate error covering all of them.
func (s *RecordStore) InsertEvents(ctx context.Context, events []models.Event) (int, error) {
	records := make([]models.HouseSaleRecord, 0, len(events))
	for _, event := range events {
		if event.Attribute.PropertyID == nil {
			s.logger.WithField("transaction_id", event.Attribute.TransactionID).
				Debug("Skipping record with missing property_id")
			continue
		}
		records = append(records, event.Attribute)
	}
	s.logger.WithField("records", len(records)).Debug("Inserting records into key-value store")

	inserted := 0
	var failures []error
	for _, batch := range chunkRecords(records, s.batchSize) {
		if err := s.writeBatch(ctx, batch); err != nil {
			failures = append(failures, err)
			continue
		}
		inserted += len(batch)
	}

	if len(failures) > 0 {
		return inserted, fmt.Errorf("failed to insert %d of %d batches: %w",
			len(failures), (len(records)+s.batchSize-1)/s.batchSize, errors.Join(failures...))
	}
	s.logger.WithField("records", inserted).Info("Inserted records into key-value store")
	return inserted, nil
}

// writeBatch pipelines one batch of records, retrying the whole batch on
// failure up to the configured attempt count.
func (s *RecordStore) writeBatch(ctx context.Context, batch []models.HouseSaleRecord) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Infof("Retrying batch write, attempt %d of %d", attempt, s.maxRetries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}

		_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, record := range batch {
				value, marshalErr := json.Marshal(flattenRecord(record))
				if marshalErr != nil {
					return marshalErr
				}
				pipe.Set(ctx, s.recordKey(record), value, 0)
			}
			return nil
		})
		if err == nil {
			return nil
		}
		s.logger.WithError(err).Error("Batch write failed")
	}
	return fmt.Errorf("batch of %d records: %w", len(batch), err)
}

func (s *RecordStore) recordKey(record models.HouseSaleRecord) string {
	return fmt.Sprintf("%s:%s", s.table, record.TransactionID)
}

// flattenRecord converts a record to the flat shape the store expects:
// property_id coerced to string, land_area down to a float.
func flattenRecord(record models.HouseSaleRecord) map[string]interface{} {
	item := map[string]interface{}{
		"transaction_id":     record.TransactionID,
		"district_code":      record.DistrictCode,
		"property_id":        strconv.Itoa(*record.PropertyID),
		"price":              record.Price,
		"property_name":      record.PropertyName,
		"unit_number":        record.UnitNumber,
		"street_number":      record.StreetNumber,
		"street_name":        record.StreetName,
		"suburb":             record.Suburb,
		"postcode":           record.Postcode,
		"area_unit":          record.AreaUnit,
		"contract_date":      record.ContractDate,
		"settlement_date":    record.SettlementDate,
		"zoning_code":        record.ZoningCode,
		"property_type":      record.PropertyType,
		"sale_type":          record.SaleType,
		"nature_of_property": record.NatureOfProperty,
	}
	if record.LandArea != nil {
		area, _ := record.LandArea.Float64()
		item["land_area"] = area
	} else {
		item["land_area"] = nil
	}
	return item
}

// chunkRecords splits records into batches of at most size.
func chunkRecords(records []models.HouseSaleRecord, size int) [][]models.HouseSaleRecord {
	var batches [][]models.HouseSaleRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
