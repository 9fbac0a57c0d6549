// Package stream handles per-device measurement streams: the channel
// header, a background row reader, in-memory buffering with a
// latest-row cache, and CSV export.
package stream

import (
	"strings"
)

// Header describes the channels of a device stream, in column order.
// The zero value is an empty header.
type Header struct {
	channels []string
	index    map[string]int
}

// ParseHeader parses the first line of a stream into a Header.
// Cells are trimmed; empty cells are dropped (QIS pads some headers
// with trailing separators).
func ParseHeader(line string) Header {
	var h Header
	for _, cell := range strings.Split(line, ",") {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if h.index == nil {
			h.index = make(map[string]int)
		}
		if _, dup := h.index[cell]; dup {
			continue
		}
		h.index[cell] = len(h.channels)
		h.channels = append(h.channels, cell)
	}
	return h
}

// Channels returns the channel names in column order.
func (h Header) Channels() []string {
	return append([]string(nil), h.channels...)
}

// Len returns the number of channels.
func (h Header) Len() int {
	return len(h.channels)
}

// Index returns the column index of a channel, or -1 if absent.
func (h Header) Index(name string) int {
	if i, ok := h.index[name]; ok {
		return i
	}
	return -1
}

// Has reports whether the header contains a channel.
func (h Header) Has(name string) bool {
	return h.Index(name) >= 0
}

// Missing returns the subset of names absent from the header,
// preserving order. An empty result means all names are present.
func (h Header) Missing(names ...string) []string {
	var missing []string
	for _, name := range names {
		if !h.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// String formats the header as its CSV line.
func (h Header) String() string {
	return strings.Join(h.channels, ",")
}
