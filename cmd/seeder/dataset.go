package main

import (
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"costtrend/internal/domain/budget"
	"costtrend/internal/domain/consumption"
	"costtrend/internal/domain/period"
	pgrepo "costtrend/internal/repository/postgres"
)

// fleetItem is one seeded resource with its actual daily unit price
type fleetItem struct {
	resource  pgrepo.Resource
	operation string
	dailyRate float64
	// listMarkup scales the catalog price relative to actual spend, producing drift
	listMarkup float64
}

var fleet = []fleetItem{
	{
		resource:  pgrepo.Resource{ID: "vm-api-1", ResourceType: "compute", Service: "ec2", Region: "us-east-1", Tags: map[string]string{"env": "prod", "team": "api"}, Quantity: 4, Active: true},
		operation: "RunInstances", dailyRate: 2.30, listMarkup: 0.95,
	},
	{
		resource:  pgrepo.Resource{ID: "vm-batch-1", ResourceType: "compute", Service: "ec2", Region: "eu-west-1", Tags: map[string]string{"env": "prod", "team": "data"}, Quantity: 2, Active: true},
		operation: "RunInstances", dailyRate: 3.10, listMarkup: 0.95,
	},
	{
		resource:  pgrepo.Resource{ID: "bucket-logs", ResourceType: "storage", Service: "s3", Region: "us-east-1", Tags: map[string]string{"env": "prod"}, Quantity: 1, Active: true},
		operation: "PutObject", dailyRate: 1.20, listMarkup: 1.40,
	},
	{
		resource:  pgrepo.Resource{ID: "db-main", ResourceType: "database", Service: "rds", Region: "us-east-1", Tags: map[string]string{"env": "prod", "team": "api"}, Quantity: 1, Active: true},
		operation: "CreateDBInstance", dailyRate: 8.75, listMarkup: 1.02,
	},
	{
		resource:  pgrepo.Resource{ID: "cdn-edge", ResourceType: "network", Service: "cloudfront", Region: "global", Tags: map[string]string{"env": "prod"}, Quantity: 1, Active: true},
		operation: "DataTransferOut", dailyRate: 0.90, listMarkup: 0.60,
	},
	{
		resource:  pgrepo.Resource{ID: "vm-staging", ResourceType: "compute", Service: "ec2", Region: "us-east-1", Tags: map[string]string{"env": "staging"}, Quantity: 1, Active: false},
		operation: "RunInstances", dailyRate: 2.30, listMarkup: 1.0,
	},
}

// dataset is everything the seeder writes
type dataset struct {
	budgets []*budget.Budget
	prices  []*pgrepo.CatalogPrice
	records []*consumption.Record
}

// buildDataset generates daily consumption for the last months, growing spend by
// growthPct per month with ±jitterPct daily noise.
func buildDataset(now time.Time, months int, growthPct, jitterPct float64, rng *rand.Rand) *dataset {
	today := period.Truncate(now)
	start := period.AddMonths(time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC), -months)

	ds := &dataset{
		budgets: seedBudgets(start),
		prices:  catalogPrices(),
	}

	for day := start; day.Before(today); day = day.AddDate(0, 0, 1) {
		elapsedMonths := day.Sub(start).Hours() / 24 / 30
		growth := 1 + growthPct/100*elapsedMonths

		for _, item := range fleet {
			if !item.resource.Active && day.After(start.AddDate(0, 1, 0)) {
				// decommissioned after the first month
				continue
			}
			noise := 1 + (rng.Float64()*2-1)*jitterPct/100
			ds.records = append(ds.records, &consumption.Record{
				ResourceType: item.resource.ResourceType,
				Service:      item.resource.Service,
				Operation:    item.operation,
				Region:       item.resource.Region,
				Tags:         item.resource.Tags,
				From:         day,
				To:           day.AddDate(0, 0, 1),
				Quantity:     item.resource.Quantity,
				UnitPrice:    round(item.dailyRate*growth*noise, 4),
				Currency:     "USD",
			})
		}
	}
	return ds
}

func seedBudgets(start time.Time) []*budget.Budget {
	yearEnd := time.Date(start.Year()+1, start.Month(), 1, 0, 0, 0, 0, time.UTC)
	return []*budget.Budget{
		{
			ID:         "00000000-0000-0000-0000-000000000001",
			OwnerID:    "demo",
			Name:       "Production monthly",
			Amount:     1500,
			Currency:   "USD",
			PeriodType: budget.Monthly,
			StartDate:  start,
		},
		{
			ID:         "00000000-0000-0000-0000-000000000002",
			OwnerID:    "demo",
			Name:       "Platform quarterly",
			Amount:     4200,
			Currency:   "USD",
			PeriodType: budget.Quarterly,
			StartDate:  start,
			EndDate:    &yearEnd,
		},
	}
}

// catalogPrices lists one monthly price per (type, region) of the fleet
func catalogPrices() []*pgrepo.CatalogPrice {
	seen := make(map[string]bool)
	var out []*pgrepo.CatalogPrice
	for _, item := range fleet {
		key := item.resource.ResourceType + "/" + item.resource.Region
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, &pgrepo.CatalogPrice{
			ResourceType: item.resource.ResourceType,
			Region:       item.resource.Region,
			MonthlyPrice: round(item.dailyRate*30*item.listMarkup, 2),
			Currency:     "USD",
		})
	}
	return out
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
