package stream

import (
	"reflect"
	"testing"
)

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{
			name: "typical power header",
			line: "Time us,L1_RMS mV,L1_RMS mA,Tot_PApp mVA",
			want: []string{"Time us", "L1_RMS mV", "L1_RMS mA", "Tot_PApp mVA"},
		},
		{
			name: "padded cells",
			line: " Time us , L1_RMS mV ,,",
			want: []string{"Time us", "L1_RMS mV"},
		},
		{
			name: "duplicates dropped",
			line: "Time us,Time us,L1_RMS mV",
			want: []string{"Time us", "L1_RMS mV"},
		},
		{
			name: "empty line",
			line: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ParseHeader(tt.line)
			if got := h.channels; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("channels = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHeaderIndex(t *testing.T) {
	h := ParseHeader("Time us,L1_RMS mV,L1_RMS mA")

	if got := h.Index("L1_RMS mV"); got != 1 {
		t.Errorf("Index(L1_RMS mV) = %d, want 1", got)
	}
	if got := h.Index("missing"); got != -1 {
		t.Errorf("Index(missing) = %d, want -1", got)
	}
	if !h.Has("Time us") {
		t.Error("Has(Time us) = false")
	}
	if h.Len() != 3 {
		t.Errorf("Len = %d, want 3", h.Len())
	}
}

func TestHeaderMissing(t *testing.T) {
	h := ParseHeader("Time us,L1_RMS mV")

	missing := h.Missing("L1_RMS mV", "Tot_PApp mVA", "L2_RMS mV")
	want := []string{"Tot_PApp mVA", "L2_RMS mV"}
	if !reflect.DeepEqual(missing, want) {
		t.Errorf("Missing = %v, want %v", missing, want)
	}

	if got := h.Missing("Time us"); got != nil {
		t.Errorf("Missing(present) = %v, want nil", got)
	}
}

func TestHeaderString(t *testing.T) {
	line := "Time us,L1_RMS mV"
	if got := ParseHeader(line).String(); got != line {
		t.Errorf("String = %q, want %q", got, line)
	}
}
