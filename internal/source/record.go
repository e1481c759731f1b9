package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"liquidityTiers/internal/model"
)

// poolRecord mirrors a Horizon liquidity pool resource.
type poolRecord struct {
	ID                 string          `json:"id"`
	FeeBP              int             `json:"fee_bp"`
	Type               string          `json:"type"`
	TotalTrustlines    flexString      `json:"total_trustlines"`
	TotalShares        flexString      `json:"total_shares"`
	Reserves           []reserveRecord `json:"reserves"`
	LastModifiedLedger int64           `json:"last_modified_ledger"`
	LastModifiedTime   string          `json:"last_modified_time"`
}

type reserveRecord struct {
	Asset  string     `json:"asset"`
	Amount flexString `json:"amount"`
}

type link struct {
	Href string `json:"href"`
}

// page accepts both the HAL envelope and a flat {"records": [...]} body.
type page struct {
	Embedded *struct {
		Records []poolRecord `json:"records"`
	} `json:"_embedded"`
	Records []poolRecord `json:"records"`
	Links   struct {
		Next link `json:"next"`
	} `json:"_links"`
}

func (p page) records() ([]poolRecord, bool) {
	if p.Embedded != nil && p.Embedded.Records != nil {
		return p.Embedded.Records, true
	}
	if p.Records != nil {
		return p.Records, true
	}
	return nil, false
}

// flexString decodes JSON strings and numbers into their literal text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

func toSnapshot(rec poolRecord) model.PoolSnapshot {
	reserves := make([]model.Reserve, 0, len(rec.Reserves))
	for _, r := range rec.Reserves {
		reserves = append(reserves, model.Reserve{Asset: r.Asset, Amount: string(r.Amount)})
	}

	return model.PoolSnapshot{
		ID:                 rec.ID,
		FeeBP:              rec.FeeBP,
		Type:               rec.Type,
		Reserves:           reserves,
		TotalAccounts:      parseCount(string(rec.TotalTrustlines)),
		TotalShares:        string(rec.TotalShares),
		LastModifiedLedger: rec.LastModifiedLedger,
		LastModifiedTime:   rec.LastModifiedTime,
	}
}

// parseCount tolerates blanks and garbage as zero; the count is display only.
func parseCount(value string) uint64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
