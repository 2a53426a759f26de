package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageRequest_Normalize(t *testing.T) {
	cases := []struct {
		name string
		in   PageRequest
		want PageRequest
	}{
		{"zero value", PageRequest{}, PageRequest{Number: 0, Size: DefaultPageSize}},
		{"negative", PageRequest{Number: -3, Size: -1}, PageRequest{Number: 0, Size: DefaultPageSize}},
		{"oversized page", PageRequest{Number: 2, Size: 1000}, PageRequest{Number: 2, Size: MaxPageSize}},
		{"huge number", PageRequest{Number: math.MaxInt, Size: 20}, PageRequest{Number: math.MaxInt32 / 20, Size: 20}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.Normalize()
			assert.Equal(t, tc.want, got)
			assert.GreaterOrEqual(t, got.Offset(), 0)
		})
	}
}

func TestPageRequest_OffsetNeverNegative(t *testing.T) {
	for size := 1; size <= MaxPageSize; size++ {
		p := PageRequest{Number: math.MaxInt, Size: size}.Normalize()
		assert.GreaterOrEqual(t, p.Offset(), 0, size)
		assert.LessOrEqual(t, p.Offset(), math.MaxInt32, size)
	}
}
