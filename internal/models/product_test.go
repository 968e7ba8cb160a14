package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRecord(t *testing.T) {
	rec := NewRecord("https://www.amazon.com/dp/B08N5WRWNW")

	assert.Equal(t, NotAvailable, rec.Title)
	assert.Equal(t, NotAvailable, rec.Price)
	assert.Equal(t, NotAvailable, rec.ASIN)
	assert.Equal(t, NotAvailable, rec.Rating)
	assert.Equal(t, NotAvailable, rec.ReviewCount)
	assert.Equal(t, "https://www.amazon.com/dp/B08N5WRWNW", rec.URL)
	assert.False(t, rec.Failed())
}

func TestComputeSuccessRatio(t *testing.T) {
	tests := []struct {
		name     string
		errors   []string
		expected float64
	}{
		{"All succeeded", []string{"", "", "", ""}, 1},
		{"One of five failed", []string{"", "", "fetch failed", "", ""}, 0.8},
		{"All failed", []string{"x", "y"}, 0},
		{"Empty list", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lr := &ListResult{}
			for _, e := range tt.errors {
				rec := NewRecord("https://www.amazon.com/dp/B08N5WRWNW")
				rec.Error = e
				lr.Items = append(lr.Items, rec)
			}
			lr.ComputeSuccessRatio()
			assert.InDelta(t, tt.expected, lr.SuccessRatio, 0.0001)
		})
	}
}
