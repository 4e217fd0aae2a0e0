package base

import (
	"testing"
	"time"
)

func TestDerivedTimes(t *testing.T) {
	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{name: "MAX_TRANSMIT_SPAN", got: MAX_TRANSMIT_SPAN, want: 45 * time.Second},
		{name: "EXCHANGE_LIFETIME", got: EXCHANGE_LIFETIME, want: 247 * time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got(%v) != want(%v)", tt.name, tt.got, tt.want)
		}
	}
}
