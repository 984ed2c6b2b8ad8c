package parsing

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"salecollect/server/internal/models"
)

// Field layout of a "B" record in the NSW bulk sales .DAT format. The
// mapping is positional and fixed; index 0 is the record type marker.
const (
	fieldDistrictCode     = 1
	fieldPropertyID       = 2
	fieldPropertyName     = 5
	fieldUnitNumber       = 6
	fieldStreetNumber     = 7
	fieldStreetName       = 8
	fieldSuburb           = 9
	fieldPostcode         = 10
	fieldLandArea         = 11
	fieldAreaUnit         = 12
	fieldContractDate     = 13
	fieldSettlementDate   = 14
	fieldPrice            = 15
	fieldZoningCode       = 16
	fieldSaleType         = 17
	fieldPropertyType     = 18
	fieldNatureOfProperty = 19
)

const (
	saleRecordMarker = "B"
	minFieldCount    = 20

	timestampLayout = "2006-01-02T15:04:05.000000"
)

// Rejection reasons reported by Decode. They describe why a line was
// excluded; they never abort the caller's batch.
var (
	ErrInsufficientColumns = errors.New("insufficient columns")
	ErrMissingPropertyID   = errors.New("missing or non-numeric property_id")
	ErrMissingPrice        = errors.New("missing or non-numeric price")
)

// RecordDecoder turns one raw .DAT line into a typed sales event.
type RecordDecoder struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewRecordDecoder creates a decoder that logs rejected lines through the
// given logger.
func NewRecordDecoder(logger *logrus.Logger) *RecordDecoder {
	return &RecordDecoder{
		logger: logger,
		now:    time.Now,
	}
}

// Decode parses one line. It returns (nil, nil) for non-data record types,
// (nil, err) for rejected lines, and a fresh event on success. The line
// number is 1-based and used only for diagnostics.
func (d *RecordDecoder) Decode(line string, lineNum int) (*models.Event, error) {
	parts := strings.Split(strings.TrimSpace(line), ";")
	if parts[0] != saleRecordMarker {
		return nil, nil
	}
	if len(parts) < minFieldCount {
		d.logger.WithFields(logrus.Fields{
			"line":   lineNum,
			"fields": len(parts),
		}).Warn("Skipping record with insufficient columns")
		return nil, ErrInsufficientColumns
	}

	propertyID := parseDigits(parts[fieldPropertyID])
	if propertyID == nil {
		d.logger.WithField("line", lineNum).Warn("Skipping record with missing property_id")
		return nil, ErrMissingPropertyID
	}
	price := parseDigits(parts[fieldPrice])
	if price == nil {
		d.logger.WithField("line", lineNum).Warn("Skipping record with missing price")
		return nil, ErrMissingPrice
	}

	record := models.HouseSaleRecord{
		TransactionID:    uuid.NewString(),
		DistrictCode:     parseDigits(parts[fieldDistrictCode]),
		PropertyID:       propertyID,
		Price:            price,
		PropertyName:     defaultString(parts[fieldPropertyName], "Unknown"),
		UnitNumber:       optionalString(parts[fieldUnitNumber]),
		StreetNumber:     strings.TrimSpace(parts[fieldStreetNumber]),
		StreetName:       strings.TrimSpace(parts[fieldStreetName]),
		Suburb:           strings.TrimSpace(parts[fieldSuburb]),
		Postcode:         strings.TrimSpace(parts[fieldPostcode]),
		LandArea:         parseLandArea(parts[fieldLandArea]),
		AreaUnit:         strings.TrimSpace(parts[fieldAreaUnit]),
		ContractDate:     strings.TrimSpace(parts[fieldContractDate]),
		SettlementDate:   strings.TrimSpace(parts[fieldSettlementDate]),
		ZoningCode:       strings.TrimSpace(parts[fieldZoningCode]),
		SaleType:         optionalString(parts[fieldSaleType]),
		PropertyType:     optionalString(parts[fieldPropertyType]),
		NatureOfProperty: optionalString(parts[fieldNatureOfProperty]),
	}

	timestamp := record.ContractDate
	if timestamp == "" {
		timestamp = d.now().Format(timestampLayout)
	}

	return &models.Event{
		TimeObject: models.NewTimeObject(timestamp),
		EventType:  models.EventTypeSales,
		Attribute:  record,
	}, nil
}

// parseDigits coerces a token to an integer only when it is syntactically
// all-digits: no sign, no decimal point. Anything else is absent.
func parseDigits(token string) *int {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	for _, r := range token {
		if r < '0' || r > '9' {
			return nil
		}
	}
	n, err := strconv.Atoi(token)
	if err != nil {
		return nil
	}
	return &n
}

// parseLandArea accepts a non-negative decimal: after removing at most one
// '.', the remainder must be all digits.
func parseLandArea(token string) *models.LandArea {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	stripped := strings.Replace(token, ".", "", 1)
	if stripped == "" {
		return nil
	}
	for _, r := range stripped {
		if r < '0' || r > '9' {
			return nil
		}
	}
	dec, err := decimal.NewFromString(token)
	if err != nil {
		return nil
	}
	return &models.LandArea{Decimal: dec}
}

func optionalString(token string) *string {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return &token
}

func defaultString(token, fallback string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return fallback
	}
	return token
}
