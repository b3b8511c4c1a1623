package commands

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Names(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"calculate_car_fbt", "licensed_periods", "summarize"}, r.Names())

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "calculate_car_fbt", list[0].Name)
}

func TestRun_Summarize(t *testing.T) {
	out, err := Default().Run(context.Background(), "summarize", Args{"input": "car parking benefits"})
	require.NoError(t, err)
	assert.Equal(t, "Summarizing FBT info: car parking benefits", out)

	_, err = Default().Run(context.Background(), "summarize", nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRun_LicensedPeriods(t *testing.T) {
	out, err := Default().Run(context.Background(), "licensed_periods", nil)
	require.NoError(t, err)
	assert.Equal(t, "2022-23, 2023-24, 2024-25", out)
}

func TestRun_CalculateCarFBT(t *testing.T) {
	tests := []struct {
		name    string
		args    Args
		want    string
		wantErr error
	}{
		{name: "full year", args: Args{"car_value": 50000.0, "days_available": 365.0}, want: "Estimated FBT: $9776.94"},
		{name: "part year", args: Args{"car_value": 30000, "days_available": 180}, want: "Estimated FBT: $2892.90"},
		{name: "leap year", args: Args{"car_value": "45000", "days_available": "366"}, want: "Estimated FBT: $8823.35"},
		{name: "zero value", args: Args{"car_value": 0, "days_available": 100}, want: "Estimated FBT: $0.00"},
		{name: "negative value", args: Args{"car_value": -1, "days_available": 10}, wantErr: ErrInvalidArgument},
		{name: "negative days", args: Args{"car_value": 1000, "days_available": -1}, wantErr: ErrInvalidArgument},
		{name: "too many days", args: Args{"car_value": 1000, "days_available": 367}, wantErr: ErrInvalidArgument},
		{name: "fractional days", args: Args{"car_value": 1000, "days_available": 10.5}, wantErr: ErrInvalidArgument},
		{name: "not a number", args: Args{"car_value": "lots", "days_available": 10}, wantErr: ErrInvalidArgument},
		{name: "missing days", args: Args{"car_value": 1000}, wantErr: ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Default().Run(context.Background(), "calculate_car_fbt", tt.args)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRun_JSONDecodedArgs(t *testing.T) {
	var args Args
	require.NoError(t, json.Unmarshal([]byte(`{"car_value": 50000, "days_available": 365}`), &args))

	out, err := Default().Run(context.Background(), "calculate_car_fbt", args)
	require.NoError(t, err)
	assert.Equal(t, "Estimated FBT: $9776.94", out)
}

func TestRun_UnknownCommand(t *testing.T) {
	_, err := Default().Run(context.Background(), "delete_everything", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestRegister_IgnoresIncomplete(t *testing.T) {
	r := NewRegistry()
	r.Register(nil)
	r.Register(&Handler{Name: "no_run"})
	r.Register(&Handler{Run: func(context.Context, Args) (string, error) { return "", nil }})
	assert.Empty(t, r.Names())
}
