package device

import (
	"testing"
	"time"
)

func TestFormatDurationCases(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{50 * time.Millisecond, "50ms"},
		{time.Second, "1s"},
		{1500 * time.Millisecond, "1500ms"},
		{2*time.Second + 250*time.Millisecond, "2250ms"},
		{10 * time.Second, "10s"},
		{time.Minute, "60s"},
	}

	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
