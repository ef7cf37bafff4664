// Package kpi computes the derived metrics the dashboard displays. All
// functions are pure and total: a zero denominator yields 0, never an error,
// NaN, or Inf. Percentages and currency values are rounded to two decimal
// places, half away from zero.
package kpi

import (
	"github.com/mohamjad/n8n-ecommerce-reporting/src/models"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/utils"
)

// AvgOrderValue is revenue per order.
func AvgOrderValue(r models.SalesRecord) float64 {
	return utils.RoundFloat(utils.SafeDiv(r.TotalRevenue, float64(r.TotalOrders)), 2)
}

// RefundRate is refunded amount as a percentage of revenue.
func RefundRate(r models.SalesRecord) float64 {
	return utils.RoundFloat(utils.SafeDiv(r.RefundsAmount, r.TotalRevenue)*100, 2)
}

// CTR is clicks per impression, as a percentage.
func CTR(r models.AdsRecord) float64 {
	return utils.RoundFloat(utils.SafeDiv(float64(r.Clicks), float64(r.Impressions))*100, 2)
}

// CPC is spend per click.
func CPC(r models.AdsRecord) float64 {
	return utils.RoundFloat(utils.SafeDiv(r.AdSpend, float64(r.Clicks)), 2)
}

// ACOS is spend as a percentage of attributed ad sales.
func ACOS(r models.AdsRecord) float64 {
	return utils.RoundFloat(utils.SafeDiv(r.AdSpend, r.AdSales)*100, 2)
}

// ROAS is attributed ad sales per unit of spend.
func ROAS(r models.AdsRecord) float64 {
	return utils.RoundFloat(utils.SafeDiv(r.AdSales, r.AdSpend), 2)
}

// ConversionRate is ad-attributed orders per click, as a percentage.
func ConversionRate(r models.AdsRecord) float64 {
	return utils.RoundFloat(utils.SafeDiv(float64(r.AdOrders), float64(r.Clicks))*100, 2)
}

// TACOS is spend as a percentage of total (organic + ad) sales. It needs the
// paired SalesRecord for the same key; without one the metric is undefined
// and the caller omits it.
func TACOS(ads models.AdsRecord, sales *models.SalesRecord) *float64 {
	if sales == nil {
		return nil
	}
	total := sales.TotalRevenue
	v := utils.RoundFloat(utils.SafeDiv(ads.AdSpend, total)*100, 2)
	return &v
}

// SalesMetrics assembles the read-side shape for one sales row.
func SalesMetrics(r models.SalesRecord) models.SalesMetric {
	return models.SalesMetric{
		SalesRecord:   r,
		AvgOrderValue: AvgOrderValue(r),
		RefundRate:    RefundRate(r),
	}
}

// AdsMetrics assembles the read-side shape for one ads row. pairedSales may
// be nil, in which case tacos is omitted.
func AdsMetrics(r models.AdsRecord, pairedSales *models.SalesRecord) models.AdsMetric {
	return models.AdsMetric{
		AdsRecord:      r,
		CTR:            CTR(r),
		CPC:            CPC(r),
		ACOS:           ACOS(r),
		TACOS:          TACOS(r, pairedSales),
		ROAS:           ROAS(r),
		ConversionRate: ConversionRate(r),
	}
}
