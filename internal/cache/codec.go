package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"liquidityTiers/internal/model"
)

const (
	fieldTier          = "tier"
	fieldTVL           = "tvl"
	fieldTimestamp     = "timestamp"
	fieldTotalAccounts = "total_accounts"
	fieldTotalShares   = "total_shares"
	fieldLastModified  = "last_modified"
	fieldReserves      = "reserves"
	fieldPriceVersion  = "price_version"
	fieldError         = "error"

	fieldTotal      = "total"
	fieldLastUpdate = "last_update"
)

func encodeClassification(c model.Classification) (map[string]interface{}, error) {
	reserves := c.Reserves
	if reserves == nil {
		reserves = []model.Reserve{}
	}
	reservesJSON, err := json.Marshal(reserves)
	if err != nil {
		return nil, fmt.Errorf("marshal reserves: %w", err)
	}

	return map[string]interface{}{
		fieldTier:          string(c.Tier),
		fieldTVL:           strconv.FormatFloat(c.TVL, 'f', -1, 64),
		fieldTimestamp:     c.Timestamp.UTC().Format(time.RFC3339Nano),
		fieldTotalAccounts: strconv.FormatUint(c.TotalAccounts, 10),
		fieldTotalShares:   c.TotalShares,
		fieldLastModified:  c.LastModified,
		fieldReserves:      string(reservesJSON),
		fieldPriceVersion:  c.PriceVersion,
		fieldError:         c.Error,
	}, nil
}

func decodeClassification(poolID string, fields map[string]string) (model.Classification, error) {
	tier, err := model.ParseTier(fields[fieldTier])
	if err != nil {
		return model.Classification{}, err
	}
	tvl, err := strconv.ParseFloat(fields[fieldTVL], 64)
	if err != nil {
		return model.Classification{}, fmt.Errorf("parse tvl: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, fields[fieldTimestamp])
	if err != nil {
		return model.Classification{}, fmt.Errorf("parse timestamp: %w", err)
	}
	var accounts uint64
	if raw := fields[fieldTotalAccounts]; raw != "" {
		accounts, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return model.Classification{}, fmt.Errorf("parse total accounts: %w", err)
		}
	}
	reserves := []model.Reserve{}
	if raw := fields[fieldReserves]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &reserves); err != nil {
			return model.Classification{}, fmt.Errorf("parse reserves: %w", err)
		}
	}

	return model.Classification{
		PoolID:        poolID,
		TVL:           tvl,
		Tier:          tier,
		Reserves:      reserves,
		TotalAccounts: accounts,
		TotalShares:   fields[fieldTotalShares],
		LastModified:  fields[fieldLastModified],
		Timestamp:     ts,
		PriceVersion:  fields[fieldPriceVersion],
		Error:         fields[fieldError],
	}, nil
}

func encodeAggregate(agg model.TierAggregate) map[string]interface{} {
	return map[string]interface{}{
		string(model.Tier1): agg.Tier1,
		string(model.Tier2): agg.Tier2,
		string(model.Tier3): agg.Tier3,
		fieldTotal:          agg.Total,
		fieldLastUpdate:     agg.LastUpdate.UTC().Format(time.RFC3339Nano),
	}
}

func decodeAggregate(fields map[string]string) (model.TierAggregate, error) {
	var agg model.TierAggregate
	counts := []struct {
		field string
		dst   *int
	}{
		{string(model.Tier1), &agg.Tier1},
		{string(model.Tier2), &agg.Tier2},
		{string(model.Tier3), &agg.Tier3},
		{fieldTotal, &agg.Total},
	}
	for _, c := range counts {
		raw := fields[c.field]
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return model.TierAggregate{}, fmt.Errorf("parse %s: %w", c.field, err)
		}
		*c.dst = n
	}
	if raw := fields[fieldLastUpdate]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return model.TierAggregate{}, fmt.Errorf("parse last update: %w", err)
		}
		agg.LastUpdate = ts
	}
	return agg, nil
}
