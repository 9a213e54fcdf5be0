package business

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ParseError describes an upstream item that cannot become a Record.
type ParseError struct {
	ExternalID string
	Reason     string
}

func (e *ParseError) Error() string {
	if e.ExternalID == "" {
		return "invalid item: " + e.Reason
	}
	return fmt.Sprintf("invalid item %s: %s", e.ExternalID, e.Reason)
}

var validate = validator.New()

// lotPattern matches a trailing lot number such as "123", "823-1" or "55 번".
var lotPattern = regexp.MustCompile(`\d+(-\d+)?\s*[가-힣]?$`)

var operatingStatuses = map[string]OperatingStatus{
	"영업중": StatusActive,
	"휴업":  StatusInactive,
	"폐업":  StatusDissolved,
	"삭제":  StatusDissolved,
}

// MapOperatingStatus maps upstream trading status text to an OperatingStatus.
// Unknown and empty values map to StatusPending.
func MapOperatingStatus(text string) OperatingStatus {
	if s, ok := operatingStatuses[strings.TrimSpace(text)]; ok {
		return s
	}
	return StatusPending
}

// SplitAddress splits a combined address into its road and lot parts. A trailing
// lot number token is the lot address and the rest is the road address. Without
// a lot token the whole address is the road address.
func SplitAddress(addr string) (road, lot *string) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	loc := lotPattern.FindStringIndex(addr)
	if loc == nil {
		return &addr, nil
	}
	lotPart := addr[loc[0]:loc[1]]
	return optional(addr[:loc[0]]), &lotPart
}

// Parse normalizes one upstream item. It understands both the commercial
// district feed (bizesId, bizesNm, rdnmAdr, ...) and the certification feed
// (bsnmNo, entrpsNm, adres, ...). The result always has RecordStatus new.
func Parse(item map[string]string, dataSource string, now time.Time) (*Record, error) {
	get := func(keys ...string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(item[k]); v != "" {
				return v
			}
		}
		return ""
	}

	rec := &Record{
		ExternalID:      get("bizesId", "mgtNo", "bsnmNo"),
		Name:            get("bizesNm", "entrpsNm"),
		Phone:           optional(get("mtel1no", "telno")),
		Large:           Category{Code: optional(get("indsLclsCd")), Name: optional(get("indsLclsNm"))},
		Medium:          Category{Code: optional(get("indsMclsCd")), Name: optional(get("indsMclsNm"))},
		Small:           Category{Code: optional(get("indsSclsCd")), Name: optional(get("indsSclsNm"))},
		OperatingStatus: MapOperatingStatus(get("trdStateNm")),
		RecordStatus:    RecordNew,
		DataSource:      dataSource,
		LastSyncedAt:    now,
	}

	if road, lot := get("rdnmAdr"), get("lnoAdr"); road != "" || lot != "" {
		rec.RoadAddress, rec.LotAddress = optional(road), optional(lot)
	} else {
		rec.RoadAddress, rec.LotAddress = SplitAddress(get("adres"))
	}

	if code := get("minduty"); code != "" {
		rec.BusinessCode = &code
		name := code
		if small := get("indsSclsNm"); small != "" {
			name = code + " - " + small
		}
		rec.BusinessName = &name
	} else {
		rec.BusinessCode = rec.Large.Code
		rec.BusinessName = rec.Large.Name
	}

	rec.Latitude = coordinate(get("lat"), 90)
	rec.Longitude = coordinate(get("lon"), 180)

	if err := validate.Struct(rec); err != nil {
		return nil, &ParseError{ExternalID: rec.ExternalID, Reason: reason(err)}
	}
	return rec, nil
}

func reason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			parts = append(parts, "missing "+fe.Field())
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

// coordinate parses a decimal degree value, dropping values that are unparseable or out of range.
func coordinate(raw string, limit int64) *decimal.Decimal {
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	if d.Abs().GreaterThan(decimal.NewFromInt(limit)) {
		return nil
	}
	return &d
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
