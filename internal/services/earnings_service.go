package services

import (
	"context"
	"fmt"

	"invoicer/internal/core"
	"invoicer/internal/earnings"
	"invoicer/internal/ports"
)

// EarningsService loads a user's matchings and aggregates them per month.
type EarningsService struct {
	matchings ports.MatchingReader
}

func NewEarningsService(matchings ports.MatchingReader) *EarningsService {
	return &EarningsService{matchings: matchings}
}

// YearReport is the earnings of one calendar year, January first.
type YearReport struct {
	Year      int                    `json:"year"`
	YearTotal core.Yen               `json:"year_total"`
	Months    []core.MonthlyEarnings `json:"months"`
	// Years lists every year with approved earnings, for navigation.
	Years []int `json:"years"`
}

func (s *EarningsService) Summary(ctx context.Context, userID string) (earnings.Summary, error) {
	records, err := s.matchings.ListMatchings(ctx, userID)
	if err != nil {
		return earnings.Summary{}, fmt.Errorf("list matchings: %w", err)
	}
	return earnings.Aggregate(records), nil
}

// Year returns the zero-filled monthly earnings of year.
func (s *EarningsService) Year(ctx context.Context, userID string, year int) (YearReport, error) {
	if year < 1 || year > 9999 {
		return YearReport{}, fmt.Errorf("invalid year %d", year)
	}
	summary, err := s.Summary(ctx, userID)
	if err != nil {
		return YearReport{}, err
	}
	return YearReport{
		Year:      year,
		YearTotal: summary.YearTotal(year),
		Months:    summary.Year(year),
		Years:     summary.Years(),
	}, nil
}
