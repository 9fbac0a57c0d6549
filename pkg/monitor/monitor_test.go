package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarchtech/qis-go/pkg/stream"
)

// fakeSource is a static monitor source for tests.
type fakeSource struct {
	header stream.Header
	values map[string]string
}

func newFakeSource(header string, values map[string]string) *fakeSource {
	return &fakeSource{
		header: stream.ParseHeader(header),
		values: values,
	}
}

func (f *fakeSource) Header() stream.Header {
	return f.header
}

func (f *fakeSource) Latest(channel string) (string, bool) {
	if !f.header.Has(channel) {
		return "", false
	}
	v, ok := f.values[channel]
	return v, ok
}

var monitorChannels = []string{"L1_RMS mV", "L1_RMS mA", "Tot_PApp mVA"}

const fullHeader = "Time us,L1_RMS mV,L1_RMS mA,Tot_PApp mVA"

func TestAddValidatesHeader(t *testing.T) {
	m := New(Config{Channels: monitorChannels})

	err := m.Add("QTL2789-01-001", newFakeSource(fullHeader, nil))
	require.NoError(t, err)

	err = m.Add("QTL2582-01-005", newFakeSource("Time us,L1_RMS mV", nil))
	require.ErrorIs(t, err, ErrMissingChannels)
	assert.Contains(t, err.Error(), "L1_RMS mA")
	assert.Contains(t, err.Error(), "Tot_PApp mVA")

	// The failing device is excluded; the first one is unaffected
	assert.Equal(t, []string{"QTL2789-01-001"}, m.Devices())
}

func TestRefreshPrintsOnlyConfiguredChannels(t *testing.T) {
	var out strings.Builder
	m := New(Config{Channels: monitorChannels, Out: &out})

	require.NoError(t, m.Add("QTL2789-01-001", newFakeSource(fullHeader, map[string]string{
		"Time us":      "99",
		"L1_RMS mV":    "11985",
		"L1_RMS mA":    "2301",
		"Tot_PApp mVA": "27584",
	})))

	m.Refresh()

	got := out.String()
	assert.Equal(t, "QTL2789-01-001 L1_RMS mV: 11985, L1_RMS mA: 2301, Tot_PApp mVA: 27584\n\n", got)
	assert.NotContains(t, got, "Time us", "unconfigured channels must not be printed")
}

func TestRefreshSkipsDevicesWithoutData(t *testing.T) {
	var out strings.Builder
	m := New(Config{Channels: monitorChannels, Out: &out})

	require.NoError(t, m.Add("QTL2789-01-001", newFakeSource(fullHeader, nil)))
	m.Refresh()

	assert.Empty(t, out.String(), "devices with no samples yet produce no output")
}

func TestRefreshPartialValues(t *testing.T) {
	var out strings.Builder
	m := New(Config{Channels: monitorChannels, Out: &out})

	require.NoError(t, m.Add("QTL2789-01-001", newFakeSource(fullHeader, map[string]string{
		"L1_RMS mV": "11985",
	})))
	m.Refresh()

	assert.Contains(t, out.String(), "L1_RMS mV: 11985")
	assert.Contains(t, out.String(), "L1_RMS mA: -")
}

func TestRemove(t *testing.T) {
	m := New(Config{Channels: monitorChannels})

	require.NoError(t, m.Add("QTL2789-01-001", newFakeSource(fullHeader, nil)))
	require.NoError(t, m.Add("QTL2582-01-005", newFakeSource(fullHeader, nil)))

	m.Remove("QTL2789-01-001")
	assert.Equal(t, []string{"QTL2582-01-005"}, m.Devices())

	m.Remove("QTL0000-00-000") // unknown serial is a no-op
	assert.Equal(t, []string{"QTL2582-01-005"}, m.Devices())
}

func TestRunStopsOnCancel(t *testing.T) {
	var out strings.Builder
	m := New(Config{
		Channels: monitorChannels,
		Interval: 5 * time.Millisecond,
		Out:      &out,
	})
	require.NoError(t, m.Add("QTL2789-01-001", newFakeSource(fullHeader, map[string]string{
		"L1_RMS mV":    "1",
		"L1_RMS mA":    "2",
		"Tot_PApp mVA": "3",
	})))

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean exit")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	assert.NotEmpty(t, out.String())
}

func TestRequiredSubset(t *testing.T) {
	// Display channels beyond the required set are allowed to be absent
	m := New(Config{
		Channels: []string{"L1_RMS mV", "L2_RMS mV"},
		Required: []string{"L1_RMS mV"},
	})

	err := m.Add("QTL2789-01-001", newFakeSource("Time us,L1_RMS mV", nil))
	assert.NoError(t, err)
}

func TestRejected(t *testing.T) {
	assert.Empty(t, Rejected(nil))

	got := Rejected(map[string]error{
		"QTL2582-01-005": ErrMissingChannels,
		"QTL2751-02-002": ErrMissingChannels,
	})
	lines := strings.Split(strings.TrimSpace(got), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "QTL2582-01-005"), "report must be sorted")
}
