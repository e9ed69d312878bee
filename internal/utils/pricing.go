package utils

import (
	"fmt"
	"strings"
	"time"

	"fulfillment-engine/internal/domain"
)

const (
	daysPerWeek = 7
	bpsDivisor  = 10000
)

type date struct {
	Year  int
	Month int
	Day   int
}

// dateDifference is whole months plus leftover days.
type dateDifference struct {
	Months int
	Days   int
}

// RentalCostBreakdown is the per-unit tier split of a rental period.
type RentalCostBreakdown struct {
	Months     int
	Weeks      int
	Days       int
	MonthsCost int64
	WeeksCost  int64
	DaysCost   int64
	TotalCost  int64
}

// LineQuote is the server-side price of one line item.
type LineQuote struct {
	UnitPrice int64
	LineTotal int64
	Tax       int64
	Deposit   int64
}

// DateLayout is the wire format of rental start and end dates.
const DateLayout = "2006-01-02"

// ParseDate reads a yyyy-mm-dd calendar date as midnight UTC. Impossible
// dates such as 2026-02-30 are rejected.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected yyyy-mm-dd", value)
	}
	return t, nil
}

func dateOf(t time.Time) date {
	y, m, d := t.UTC().Date()
	return date{Year: y, Month: int(m), Day: d}
}

func daysInMonth(year, month int) int {
	if month == 2 {
		if (year%4 == 0 && year%100 != 0) || (year%400 == 0) {
			return 29
		}
		return 28
	}
	if month == 4 || month == 6 || month == 9 || month == 11 {
		return 30
	}
	return 31
}

// calculateDateDifference computes whole months plus leftover days between
// two dates, end exclusive. A same-day period counts as one day.
func calculateDateDifference(startDate, endDate date) (dateDifference, error) {
	if endDate.Year < startDate.Year ||
		(endDate.Year == startDate.Year && endDate.Month < startDate.Month) ||
		(endDate.Year == startDate.Year && endDate.Month == startDate.Month && endDate.Day < startDate.Day) {
		return dateDifference{}, fmt.Errorf("end date must be >= start date")
	}

	years := endDate.Year - startDate.Year
	months := endDate.Month - startDate.Month
	days := endDate.Day - startDate.Day

	// Borrow the length of the month before the end date.
	if days < 0 {
		months--
		prevMonth := endDate.Month - 1
		prevYear := endDate.Year
		if prevMonth < 1 {
			prevMonth = 12
			prevYear--
		}
		days += daysInMonth(prevYear, prevMonth)
	}
	if months < 0 {
		years--
		months += 12
	}
	months += 12 * years

	if months == 0 && days == 0 {
		days = 1
	}
	return dateDifference{Months: months, Days: days}, nil
}

// RentalDays is the number of calendar days billed for a period, at least one.
func RentalDays(start, end time.Time) int32 {
	days := int32(end.UTC().Truncate(24*time.Hour).Sub(start.UTC().Truncate(24*time.Hour)).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// CalculateRentalCost prices one unit for the period using the tier of the rate card.
func CalculateRentalCost(startDate, endDate time.Time, rate *domain.RateCard) (int64, error) {
	b, err := CalculateRentalCostWithBreakdown(startDate, endDate, rate)
	if err != nil {
		return 0, err
	}
	return b.TotalCost, nil
}

// CalculateRentalCostWithBreakdown provides detailed breakdown of rental cost
func CalculateRentalCostWithBreakdown(startDate, endDate time.Time, rate *domain.RateCard) (RentalCostBreakdown, error) {
	diff, err := calculateDateDifference(dateOf(startDate), dateOf(endDate))
	if err != nil {
		return RentalCostBreakdown{}, err
	}

	switch rate.DurationUnit {
	case domain.DurationUnitMonth:
		// Any part of a month is charged as a month.
		months := diff.Months
		if diff.Days > 0 {
			months++
		}
		cost := int64(months) * rate.Monthly
		return RentalCostBreakdown{Months: months, MonthsCost: cost, TotalCost: cost}, nil

	case domain.DurationUnitWeek:
		weeks := diff.Days / daysPerWeek
		if diff.Days%daysPerWeek > 0 {
			weeks++
		}
		monthsCost := int64(diff.Months) * rate.Monthly
		weeksCost := int64(weeks) * rate.Weekly
		return RentalCostBreakdown{
			Months:     diff.Months,
			Weeks:      weeks,
			MonthsCost: monthsCost,
			WeeksCost:  weeksCost,
			TotalCost:  monthsCost + weeksCost,
		}, nil

	default:
		weeks := diff.Days / daysPerWeek
		days := diff.Days % daysPerWeek
		monthsCost := int64(diff.Months) * rate.Monthly
		weeksCost := int64(weeks) * rate.Weekly
		daysCost := int64(days) * rate.Daily
		// Leftover days never cost more than another week.
		if rate.Weekly > 0 && daysCost > rate.Weekly {
			daysCost = rate.Weekly
		}
		return RentalCostBreakdown{
			Months:     diff.Months,
			Weeks:      weeks,
			Days:       days,
			MonthsCost: monthsCost,
			WeeksCost:  weeksCost,
			DaysCost:   daysCost,
			TotalCost:  monthsCost + weeksCost + daysCost,
		}, nil
	}
}

// TaxOn applies a basis-point rate, rounding half up.
func TaxOn(amount int64, rateBps int32) int64 {
	return (amount*int64(rateBps) + bpsDivisor/2) / bpsDivisor
}

// QuoteLine prices qty units of a rate card. Rentals need a period; sales
// use the unit price and carry no deposit.
func QuoteLine(kind domain.TransactionKind, rate *domain.RateCard, qty int32, start, end *time.Time) (LineQuote, error) {
	if qty <= 0 {
		return LineQuote{}, fmt.Errorf("quantity must be positive")
	}
	var q LineQuote
	switch kind {
	case domain.TransactionKindRental:
		if start == nil || end == nil {
			return LineQuote{}, fmt.Errorf("rental needs start and end dates")
		}
		unit, err := CalculateRentalCost(*start, *end, rate)
		if err != nil {
			return LineQuote{}, err
		}
		q.UnitPrice = unit
		q.Deposit = rate.Deposit * int64(qty)
	case domain.TransactionKindSale:
		q.UnitPrice = rate.UnitPrice
	default:
		return LineQuote{}, fmt.Errorf("unknown transaction kind %q", kind)
	}
	q.LineTotal = q.UnitPrice * int64(qty)
	q.Tax = TaxOn(q.LineTotal, rate.TaxRateBps)
	return q, nil
}
