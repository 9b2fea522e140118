package mapfeed

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const fieldSeparator = ";"

// Object is one entry of the map file.
type Object struct {
	ID        int32   `json:"id"`
	Type      int32   `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SkippedLine describes a data line that did not yield an object.
type SkippedLine struct {
	Line   int // 1-based
	Reason string
}

// Parse reads a map file. It never fails on malformed lines; they are
// reported in the skipped list instead. Only read errors are returned.
func Parse(r io.Reader) ([]Object, []SkippedLine, error) {
	var (
		objects []Object
		skipped []SkippedLine
	)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		if line == 1 {
			continue
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		obj, err := parseLine(text)
		if err != nil {
			skipped = append(skipped, SkippedLine{Line: line, Reason: err.Error()})
			continue
		}
		objects = append(objects, obj)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("mapfeed: read: %w", err)
	}
	return objects, skipped, nil
}

func parseLine(text string) (Object, error) {
	fields := strings.Split(text, fieldSeparator)
	if len(fields) != 4 {
		return Object{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	id, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return Object{}, fmt.Errorf("id: %w", err)
	}
	typ, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return Object{}, fmt.Errorf("type: %w", err)
	}
	lat, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Object{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Object{}, fmt.Errorf("longitude: %w", err)
	}
	return Object{ID: int32(id), Type: int32(typ), Latitude: lat, Longitude: lon}, nil
}
