// Package validator runs independent sanity checks over canonical records
// before commit. Findings are reported as anomalies, never rejections: they
// ride along with the record so the dashboard side can review them.
package validator

import (
	"fmt"
	"math"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/kpi"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
)

// Anomaly codes.
const (
	CodeNegativeValue     = "NEGATIVE_VALUE"
	CodeRefundRateOver100 = "REFUND_RATE_OVER_100"
	CodeAcosRoasMismatch  = "ACOS_ROAS_INCONSISTENT"
	CodeDayOverDaySpike   = "DAY_OVER_DAY_SPIKE"
)

// dayOverDayLimit is the relative change beyond which a metric is flagged
// against the prior calendar day (300%).
const dayOverDayLimit = 3.0

// ValidateSales checks one sales record. prior is the committed record for
// the previous calendar day under the same key, nil when none exists.
func ValidateSales(rec models.SalesRecord, prior *models.SalesRecord) []models.Anomaly {
	var anomalies []models.Anomaly
	key := rec.Key()

	checkNegative := func(field string, v float64) {
		if v < 0 {
			anomalies = append(anomalies, anomaly(key, "sales", CodeNegativeValue, field, v,
				fmt.Sprintf("%s is negative: %.2f", field, v)))
		}
	}
	checkNegative("total_orders", float64(rec.TotalOrders))
	checkNegative("total_revenue", rec.TotalRevenue)
	checkNegative("net_revenue", rec.NetRevenue)
	checkNegative("units_sold", float64(rec.UnitsSold))
	checkNegative("refunds_amount", rec.RefundsAmount)
	checkNegative("organic_sales", rec.OrganicSales)
	checkNegative("promoted_sales", rec.PromotedSales)

	if rate := kpi.RefundRate(rec); rate > 100 {
		anomalies = append(anomalies, anomaly(key, "sales", CodeRefundRateOver100, "refunds_amount", rate,
			fmt.Sprintf("refund rate %.2f%% exceeds 100%%", rate)))
	}

	if prior != nil {
		if a, spiked := dayOverDay(key, "sales", "total_revenue", rec.TotalRevenue, prior.TotalRevenue); spiked {
			anomalies = append(anomalies, a)
		}
	}
	return anomalies
}

// ValidateAds checks one ads record against the same rules, plus the
// acos/roas cross-consistency check.
func ValidateAds(rec models.AdsRecord, prior *models.AdsRecord) []models.Anomaly {
	var anomalies []models.Anomaly
	key := rec.Key()

	checkNegative := func(field string, v float64) {
		if v < 0 {
			anomalies = append(anomalies, anomaly(key, "ads", CodeNegativeValue, field, v,
				fmt.Sprintf("%s is negative: %.2f", field, v)))
		}
	}
	checkNegative("ad_spend", rec.AdSpend)
	checkNegative("ad_sales", rec.AdSales)
	checkNegative("ad_orders", float64(rec.AdOrders))
	checkNegative("impressions", float64(rec.Impressions))
	checkNegative("clicks", float64(rec.Clicks))

	// acos and roas are reciprocal up to percentage scaling; a drift beyond
	// floating tolerance means one of the inputs is corrupt.
	if rec.AdSpend > 0 && rec.AdSales > 0 {
		acos := kpi.ACOS(rec)
		roas := kpi.ROAS(rec)
		if math.Abs(acos*roas/100-1) > 0.01 {
			anomalies = append(anomalies, anomaly(key, "ads", CodeAcosRoasMismatch, "", acos*roas/100,
				fmt.Sprintf("acos %.2f and roas %.2f are inconsistent", acos, roas)))
		}
	}

	if prior != nil {
		if a, spiked := dayOverDay(key, "ads", "ad_spend", rec.AdSpend, prior.AdSpend); spiked {
			anomalies = append(anomalies, a)
		}
	}
	return anomalies
}

func dayOverDay(key models.MetricKey, kind, field string, current, previous float64) (models.Anomaly, bool) {
	if previous == 0 {
		return models.Anomaly{}, false
	}
	change := math.Abs(current-previous) / math.Abs(previous)
	if change <= dayOverDayLimit {
		return models.Anomaly{}, false
	}
	return anomaly(key, kind, CodeDayOverDaySpike, field, change*100,
		fmt.Sprintf("%s changed %.0f%% vs prior day (%.2f -> %.2f)", field, change*100, previous, current)), true
}

func anomaly(key models.MetricKey, kind, code, field string, value float64, detail string) models.Anomaly {
	return models.Anomaly{
		RecordKind:  kind,
		Date:        key.Date,
		Marketplace: key.Marketplace,
		AccountID:   key.AccountID,
		Code:        code,
		Field:       field,
		Value:       value,
		Detail:      detail,
	}
}
