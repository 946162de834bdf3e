// Package progress turns the download tool's textual output into ProgressSnapshot updates, and holds the latest
// snapshot for concurrent readers.
//
// Parsing is positional rather than a grammar of the tool's output: any line that doesn't have the expected shape
// is simply not an update.
package progress

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	video_fetcher "github.com/alanbriolat/video-fetcher"
	"github.com/alanbriolat/video-fetcher/generic"
)

const (
	ProgressMarker    = "[download]"
	DestinationMarker = "Destination:"

	speedMarker = "at "
	etaMarker   = "ETA "
)

type Snapshot = video_fetcher.ProgressSnapshot

// Parse returns the snapshot that results from applying line to prev, or None if the line carries no update.
func Parse(line string, prev Snapshot) generic.Option[Snapshot] {
	if strings.Contains(line, ProgressMarker) {
		if next, ok := parseProgress(line, prev); ok {
			return generic.Some(next)
		}
	}
	if strings.Contains(line, DestinationMarker) {
		return generic.Some(parseDestination(line, prev))
	}
	return generic.None[Snapshot]()
}

func parseProgress(line string, prev Snapshot) (Snapshot, bool) {
	percentage, ok := Percentage(line)
	if !ok {
		return prev, false
	}
	next := prev
	next.Percentage = percentage
	if speed, ok := Speed(line); ok {
		next.Speed = speed
	}
	if eta, ok := ETA(line); ok {
		next.ETA = eta
	}
	return next, true
}

func parseDestination(line string, prev Snapshot) Snapshot {
	next := prev
	i := strings.Index(line, DestinationMarker)
	next.Filename = strings.TrimSpace(line[i+len(DestinationMarker):])
	return next
}

// Percentage finds the number immediately before the first "%", i.e. the text between the nearest preceding space and
// the "%". It must be a plain decimal in [0, 100].
func Percentage(line string) (float64, bool) {
	end := strings.IndexByte(line, '%')
	if end <= 1 {
		return 0, false
	}
	start := strings.LastIndexByte(line[:end], ' ')
	if start < 0 {
		return 0, false
	}
	token := line[start+1 : end]
	if !isDecimal(token) {
		return 0, false
	}
	value, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsNaN(value) || value < 0 || value > 100 {
		return 0, false
	}
	return value, true
}

// isDecimal excludes the other spellings ParseFloat accepts ("Inf", "0x1p4", "1_0", ...).
func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
		case (r == '+' || r == '-') && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}

// Speed is the rate after "at ": the text up to the next "/", extended to the end of the unit, e.g. "1.23MiB/s".
func Speed(line string) (string, bool) {
	i := strings.Index(line, speedMarker)
	if i < 0 {
		return "", false
	}
	rest := line[i+len(speedMarker):]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return "", false
	}
	end := slash + 1
	if j := strings.IndexFunc(rest[end:], unicode.IsSpace); j >= 0 {
		end += j
	} else {
		end = len(rest)
	}
	speed := strings.TrimSpace(rest[:end])
	return speed, speed != ""
}

// ETA is the text after "ETA " up to the next "]". Without a closing "]" (the usual --newline output) it is the first
// field after the marker.
func ETA(line string) (string, bool) {
	i := strings.Index(line, etaMarker)
	if i < 0 {
		return "", false
	}
	rest := line[i+len(etaMarker):]
	var eta string
	if j := strings.IndexByte(rest, ']'); j >= 0 {
		eta = strings.TrimSpace(rest[:j])
	} else if fields := strings.Fields(rest); len(fields) > 0 {
		eta = fields[0]
	}
	return eta, eta != ""
}
