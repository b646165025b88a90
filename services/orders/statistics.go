package main

import (
	"time"

	"github.com/shopspring/decimal"
)

const dayLayout = "2006-01-02"

// windowStart retorna a meia-noite UTC do primeiro dia de uma janela de `days` dias terminando hoje
func windowStart(now time.Time, days int) time.Time {
	today := now.UTC().Truncate(24 * time.Hour)
	return today.AddDate(0, 0, -(days - 1))
}

// fillDailySeries completa com zero os dias sem vendas, em ordem cronológica
func fillDailySeries(since time.Time, days int, rows []DailyRevenue) []DailyRevenue {
	byDay := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		byDay[row.Day] = row.Revenue
	}

	series := make([]DailyRevenue, 0, days)
	for i := 0; i < days; i++ {
		day := since.AddDate(0, 0, i).Format(dayLayout)
		revenue, ok := byDay[day]
		if !ok {
			revenue = decimal.Zero
		}
		series = append(series, DailyRevenue{Day: day, Revenue: revenue})
	}
	return series
}
