package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	FacilityID string `json:"facility_id" validate:"required"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime  string `json:"start_time" validate:"required,clock"`
	Count      *int   `json:"participant_count" validate:"omitempty,min=1"`
}

func TestCustomValidator(t *testing.T) {
	v := NewValidator()
	one, zero := 1, 0

	tests := []struct {
		name    string
		req     sampleRequest
		wantErr string
	}{
		{"正常", sampleRequest{"room-a", "2026-06-01", "10:00", &one}, ""},
		{"24:00を受け付ける", sampleRequest{"room-a", "2026-06-01", "24:00", nil}, ""},
		{"施設ID未指定", sampleRequest{"", "2026-06-01", "10:00", nil}, "facility_id は必須です"},
		{"日付形式", sampleRequest{"room-a", "2026/06/01", "10:00", nil}, "date は YYYY-MM-DD 形式で指定してください"},
		{"時刻形式", sampleRequest{"room-a", "2026-06-01", "10時", nil}, "start_time は HH:MM 形式で指定してください"},
		{"人数0", sampleRequest{"room-a", "2026-06-01", "10:00", &zero}, "participant_count は 1 以上で指定してください"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			apiErr := Classify(err)
			assert.Equal(t, CodeValidation, apiErr.Code)
			assert.Equal(t, 400, apiErr.Status)
			assert.Contains(t, apiErr.Message, tt.wantErr)
		})
	}
}
