package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Dataset envelope constants. The values come from the NSW Valuer General
// bulk sales feed this service ingests.
const (
	DataSource       = "NSW Valuer General"
	DatasetTypeSales = "sales report"
	EventTypeSales   = "sales report"
	DefaultDatasetID = "2024"

	DefaultTimezone     = "AEDT"
	DefaultDurationUnit = "day"
)

// LandArea wraps an arbitrary-precision decimal that serializes as a plain
// JSON number. The flat files carry areas like "500.5"; downstream consumers
// expect a float, not a quoted decimal string.
type LandArea struct {
	decimal.Decimal
}

func (a LandArea) MarshalJSON() ([]byte, error) {
	f, _ := a.Float64()
	return json.Marshal(f)
}

func (a *LandArea) UnmarshalJSON(data []byte) error {
	return a.Decimal.UnmarshalJSON(data)
}

// TimeObject describes when an event occurred or was observed. Timestamps
// are kept as strings because the source data contains dates too malformed
// to round-trip through time.Time.
type TimeObject struct {
	Timestamp    string `json:"timestamp"`
	Duration     int    `json:"duration"`
	DurationUnit string `json:"duration_unit"`
	Timezone     string `json:"timezone"`
}

// NewTimeObject returns a TimeObject with the feed's default duration and
// timezone applied.
func NewTimeObject(timestamp string) TimeObject {
	return TimeObject{
		Timestamp:    timestamp,
		Duration:     0,
		DurationUnit: DefaultDurationUnit,
		Timezone:     DefaultTimezone,
	}
}

// HouseSaleRecord is one decoded row of a .DAT sales file. PropertyID and
// Price are always non-nil on a decoded record; rows where either cannot be
// coerced are rejected at decode time.
type HouseSaleRecord struct {
	TransactionID    string    `json:"transaction_id"`
	DistrictCode     *int      `json:"district_code"`
	PropertyID       *int      `json:"property_id"`
	Price            *int      `json:"price"`
	PropertyName     string    `json:"property_name"`
	UnitNumber       *string   `json:"unit_number"`
	StreetNumber     string    `json:"street_number"`
	StreetName       string    `json:"street_name"`
	Suburb           string    `json:"suburb"`
	Postcode         string    `json:"postcode"`
	LandArea         *LandArea `json:"land_area"`
	AreaUnit         string    `json:"area_unit"`
	ContractDate     string    `json:"contract_date"`
	SettlementDate   string    `json:"settlement_date"`
	ZoningCode       string    `json:"zoning_code"`
	PropertyType     *string   `json:"property_type"`
	SaleType         *string   `json:"sale_type"`
	NatureOfProperty *string   `json:"nature_of_property"`
}

// Event wraps one record with its event metadata.
type Event struct {
	TimeObject TimeObject      `json:"time_object"`
	EventType  string          `json:"event_type"`
	Attribute  HouseSaleRecord `json:"attribute"`
}

// Dataset is the assembled output: metadata plus the ordered event list.
type Dataset struct {
	DataSource  string     `json:"data_source"`
	DatasetType string     `json:"dataset_type"`
	DatasetID   string     `json:"dataset_id"`
	TimeObject  TimeObject `json:"time_object"`
	Events      []Event    `json:"events"`
}
