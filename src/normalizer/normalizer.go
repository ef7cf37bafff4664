// Package normalizer maps decoded untyped records onto the canonical sales
// and ads schemas using the declarative platform mappings. Normalization is
// all-or-nothing per record: any missing required field, unparseable number,
// or bad date rejects the whole record.
package normalizer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/platforms"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/utils"
)

// Rejection kinds.
const (
	ErrMissingField = "MISSING_FIELD"
	ErrBadType      = "BAD_TYPE"
	ErrBadDate      = "BAD_DATE"
)

// Error describes why a single record was rejected. Record-level and
// non-fatal: the caller counts it and moves on.
type Error struct {
	Kind   string
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalization failed (%s) on field %q: %s", e.Kind, e.Field, e.Reason)
}

// Result holds exactly one of the two canonical record types.
type Result struct {
	Sales *models.SalesRecord
	Ads   *models.AdsRecord
}

// Normalize converts one untyped record per the mapping. accountID comes from
// the triple being processed, not from the report payload.
func Normalize(rec models.UntypedRecord, mapping platforms.ReportMapping, accountID string) (*Result, error) {
	rawDate, ok := rec.Get(mapping.DateColumn)
	if !ok || strings.TrimSpace(rawDate) == "" {
		return nil, &Error{Kind: ErrMissingField, Field: mapping.DateColumn, Reason: "date column absent"}
	}
	day, err := parseDay(strings.TrimSpace(rawDate), mapping.DateLayout)
	if err != nil {
		return nil, &Error{Kind: ErrBadDate, Field: mapping.DateColumn, Reason: err.Error()}
	}

	marketplace := mapping.DefaultMarketplace
	if mapping.MarketplaceColumn != "" {
		if v, ok := rec.Get(mapping.MarketplaceColumn); ok && strings.TrimSpace(v) != "" {
			marketplace = strings.TrimSpace(v)
		}
	}

	values := map[string]float64{}
	for _, spec := range mapping.Fields {
		raw, ok := rec.Get(spec.Column)
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			if spec.Required {
				return nil, &Error{Kind: ErrMissingField, Field: spec.Column, Reason: "required field absent"}
			}
			continue
		}
		v, err := parseNumeric(raw, spec.Monetary)
		if err != nil {
			return nil, &Error{Kind: ErrBadType, Field: spec.Column, Reason: err.Error()}
		}
		if spec.Monetary {
			v = utils.RoundFloat(v*mapping.AmountScale, 2)
		}
		values[spec.Canonical] = v
	}

	switch mapping.Kind {
	case platforms.KindSales:
		rec := &models.SalesRecord{
			Date:          day,
			Marketplace:   marketplace,
			AccountID:     accountID,
			TotalOrders:   int64(values[platforms.FieldTotalOrders]),
			TotalRevenue:  values[platforms.FieldTotalRevenue],
			UnitsSold:     int64(values[platforms.FieldUnitsSold]),
			RefundsAmount: values[platforms.FieldRefundsAmount],
			OrganicSales:  values[platforms.FieldOrganicSales],
			PromotedSales: values[platforms.FieldPromotedSales],
		}
		// Net revenue is always derived, never mapped, so that additive
		// merges across feeds keep it consistent.
		rec.NetRevenue = utils.RoundFloat(rec.TotalRevenue-rec.RefundsAmount, 2)
		return &Result{Sales: rec}, nil
	case platforms.KindAds:
		rec := &models.AdsRecord{
			Date:        day,
			Marketplace: marketplace,
			AccountID:   accountID,
			AdSpend:     values[platforms.FieldAdSpend],
			AdSales:     values[platforms.FieldAdSales],
			AdOrders:    int64(values[platforms.FieldAdOrders]),
			Impressions: int64(values[platforms.FieldImpressions]),
			Clicks:      int64(values[platforms.FieldClicks]),
		}
		return &Result{Ads: rec}, nil
	}
	return nil, &Error{Kind: ErrBadType, Field: "", Reason: fmt.Sprintf("unknown record kind %q", mapping.Kind)}
}

// parseDay normalizes any supported source layout to the ISO calendar day.
func parseDay(raw, layout string) (string, error) {
	if t, err := utils.ParseISODate(raw); err == nil {
		return t.Format(utils.ISODateFormat), nil
	}
	if layout != "" && layout != utils.ISODateFormat {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(utils.ISODateFormat), nil
		}
	}
	return "", fmt.Errorf("unparseable date %q", raw)
}

// parseNumeric accepts plain integers, decimal strings, and monetary strings
// with currency symbols or thousands separators ("$1,234.56"). ParseFloat
// accepts "NaN" and "Inf" spellings, which no report legitimately contains;
// non-finite values are rejected so they can never reach the KPI functions
// or the JSON read surface.
func parseNumeric(raw string, monetary bool) (float64, error) {
	cleaned := raw
	if monetary {
		cleaned = strings.TrimLeft(cleaned, "$€£ ")
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("non-numeric value %q", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", raw)
	}
	return v, nil
}

// MergeSales folds src into dst additively. Key fields are last-merge-wins
// (they are equal for records sharing a key); sums apply to every monetary
// and count field, and net revenue is re-derived from the merged sums.
func MergeSales(dst, src models.SalesRecord) models.SalesRecord {
	out := models.SalesRecord{
		Date:          src.Date,
		Marketplace:   src.Marketplace,
		AccountID:     src.AccountID,
		TotalOrders:   dst.TotalOrders + src.TotalOrders,
		TotalRevenue:  utils.RoundFloat(dst.TotalRevenue+src.TotalRevenue, 2),
		UnitsSold:     dst.UnitsSold + src.UnitsSold,
		RefundsAmount: utils.RoundFloat(dst.RefundsAmount+src.RefundsAmount, 2),
		OrganicSales:  utils.RoundFloat(dst.OrganicSales+src.OrganicSales, 2),
		PromotedSales: utils.RoundFloat(dst.PromotedSales+src.PromotedSales, 2),
	}
	out.NetRevenue = utils.RoundFloat(out.TotalRevenue-out.RefundsAmount, 2)
	return out
}

// MergeAds folds src into dst additively, mirroring MergeSales.
func MergeAds(dst, src models.AdsRecord) models.AdsRecord {
	return models.AdsRecord{
		Date:        src.Date,
		Marketplace: src.Marketplace,
		AccountID:   src.AccountID,
		AdSpend:     utils.RoundFloat(dst.AdSpend+src.AdSpend, 2),
		AdSales:     utils.RoundFloat(dst.AdSales+src.AdSales, 2),
		AdOrders:    dst.AdOrders + src.AdOrders,
		Impressions: dst.Impressions + src.Impressions,
		Clicks:      dst.Clicks + src.Clicks,
	}
}
