package commands

import (
	"context"
	"fmt"
	"strings"
)

// Car fringe benefit constants for the statutory formula method.
const (
	StatutoryFraction = 0.20
	GrossUpRate       = 2.0802
	FBTRate           = 0.47

	maxDaysAvailable = 366
)

// LicensedPeriods are the FBT years the knowledge base covers.
var LicensedPeriods = []string{"2022-23", "2023-24", "2024-25"}

// CarFBT estimates fringe benefits tax on a car using the statutory formula:
// value × 20% × days/365, grossed up at 2.0802 and taxed at 47%.
func CarFBT(carValue float64, daysAvailable int) (float64, error) {
	if carValue < 0 {
		return 0, fmt.Errorf("%w: car_value cannot be negative", ErrInvalidArgument)
	}
	if daysAvailable < 0 || daysAvailable > maxDaysAvailable {
		return 0, fmt.Errorf("%w: days_available must be between 0 and %d, got %d",
			ErrInvalidArgument, maxDaysAvailable, daysAvailable)
	}
	base := carValue * StatutoryFraction * float64(daysAvailable) / 365
	return base * GrossUpRate * FBTRate, nil
}

func builtins() []*Handler {
	return []*Handler{
		{
			Name:        "summarize",
			Description: "Summarizes the user's FBT query in 2-3 lines.",
			Params: []Param{
				{Name: "input", Type: TypeString, Description: "User's full question or FBT detail.", Required: true},
			},
			Run: func(_ context.Context, args Args) (string, error) {
				input, err := args.String("input")
				if err != nil {
					return "", err
				}
				return "Summarizing FBT info: " + input, nil
			},
		},
		{
			Name:        "licensed_periods",
			Description: "Lists the licensed FBT periods.",
			Run: func(context.Context, Args) (string, error) {
				return strings.Join(LicensedPeriods, ", "), nil
			},
		},
		{
			Name:        "calculate_car_fbt",
			Description: "Calculates FBT on a car benefit using the statutory formula.",
			Params: []Param{
				{Name: "car_value", Type: TypeNumber, Description: "Base value of the car in dollars.", Required: true},
				{Name: "days_available", Type: TypeInteger, Description: "Days in the FBT year the car was available for private use.", Required: true},
			},
			Run: func(_ context.Context, args Args) (string, error) {
				value, err := args.Float("car_value")
				if err != nil {
					return "", err
				}
				days, err := args.Int("days_available")
				if err != nil {
					return "", err
				}
				fbt, err := CarFBT(value, days)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Estimated FBT: $%.2f", fbt), nil
			},
		},
	}
}
