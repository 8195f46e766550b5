package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"realtime-dashboard/internal/telemetry"
)

const maxLineBytes = 4 << 20

type record struct {
	line  int
	at    time.Time
	event telemetry.Event
}

type wrappedLine struct {
	TS    json.RawMessage `json:"ts"`
	Event json.RawMessage `json:"event"`
}

// readCapture parses one event per line. Blank lines and lines starting with
// '#' are skipped.
func readCapture(r io.Reader) ([]record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []record
	n := 0
	for scanner.Scan() {
		n++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		var w wrappedLine
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		data := line
		rec := record{line: n}
		if len(w.Event) > 0 {
			data = w.Event
			at, err := parseTimestamp(w.TS)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
			rec.at = at
		}
		ev, err := telemetry.DecodeEvent(data)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		rec.event = ev
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseTimestamp accepts unix milliseconds or an RFC 3339 string.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		return time.Unix(0, int64(ms*float64(time.Millisecond))).UTC(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("invalid ts %s", raw)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ts %q: %w", s, err)
	}
	return t.UTC(), nil
}

type replayClock struct {
	now time.Time
}

func (c *replayClock) Now() time.Time { return c.now }

type replayResult struct {
	Events  int                     `json:"events"`
	Start   time.Time               `json:"start"`
	Elapsed time.Duration           `json:"elapsed"`
	Rates   telemetry.PricingConfig `json:"rates"`
	View    telemetry.View          `json:"view"`
}

// replay routes records through a fresh session. Records without a timestamp
// advance the clock by step from the previous one.
func replay(records []record, rates telemetry.PricingConfig, step time.Duration, logCapacity int) replayResult {
	clock := &replayClock{now: time.Unix(0, 0).UTC()}
	if len(records) > 0 && !records[0].at.IsZero() {
		clock.now = records[0].at
	}
	router := telemetry.NewRouter(clock.Now, logCapacity)
	start := router.Begin()

	for i, rec := range records {
		switch {
		case !rec.at.IsZero():
			clock.now = rec.at
		case i > 0:
			clock.now = clock.now.Add(step)
		}
		router.Route(rec.event, rates)
	}

	return replayResult{
		Events:  len(records),
		Start:   start,
		Elapsed: clock.now.Sub(start),
		Rates:   rates,
		View:    router.View(),
	}
}

func writeJSONResult(w io.Writer, res replayResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func writeTextResult(w io.Writer, res replayResult) error {
	v := res.View
	s := v.Session
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "events\t%d\n", res.Events)
	fmt.Fprintf(tw, "elapsed\t%s\n", res.Elapsed)
	fmt.Fprintf(tw, "input tokens\t%d\t(audio %d, text %d, cached %d)\n",
		v.TotalInputTokens, s.AudioInputTokens, s.TextInputTokens, s.CachedInputTokens)
	fmt.Fprintf(tw, "output tokens\t%d\t(audio %d, text %d)\n",
		v.TotalOutputTokens, s.AudioOutputTokens, s.TextOutputTokens)
	fmt.Fprintf(tw, "cost\t$%.6f\t(input $%.6f, output $%.6f)\n", s.TotalCost, s.InputCost, s.OutputCost)

	fmt.Fprintf(tw, "\ntimeline\t%d segments\n", len(v.TimelineSegments))
	for _, seg := range v.TimelineSegments {
		fmt.Fprintf(tw, "  +%s\t%s\t%s\n", offset(res.Start, seg.Start), seg.Speaker, seg.Duration)
	}
	if v.PendingTurn != nil {
		fmt.Fprintf(tw, "  +%s\t%s\t(open)\n", offset(res.Start, v.PendingTurn.Start), v.PendingTurn.Speaker)
	}

	fmt.Fprintf(tw, "\nthroughput\t%d points\n", len(v.TokenDataPoints))
	for _, p := range v.TokenDataPoints {
		fmt.Fprintf(tw, "  %.2fs\tin %d\tout %d\tcumulative %d/%d\n",
			p.ElapsedSeconds, p.InputTokens, p.OutputTokens, p.CumulativeInput, p.CumulativeOutput)
	}

	d := v.Diagnostics
	var notes []string
	if d.UnmatchedSpeechStops > 0 {
		notes = append(notes, fmt.Sprintf("unmatched speech stops %d", d.UnmatchedSpeechStops))
	}
	if d.UnmatchedAudioDones > 0 {
		notes = append(notes, fmt.Sprintf("unmatched audio dones %d", d.UnmatchedAudioDones))
	}
	if d.UnknownEvents > 0 {
		notes = append(notes, fmt.Sprintf("unknown events %d", d.UnknownEvents))
	}
	if d.ResponsesWithoutUsage > 0 {
		notes = append(notes, fmt.Sprintf("responses without usage %d", d.ResponsesWithoutUsage))
	}
	if d.NegativeDeltas > 0 {
		notes = append(notes, fmt.Sprintf("negative deltas %d", d.NegativeDeltas))
	}
	if len(notes) > 0 {
		fmt.Fprintf(tw, "\ndiagnostics\t%s\n", strings.Join(notes, ", "))
	}
	return tw.Flush()
}

func offset(start, at time.Time) time.Duration {
	return at.Sub(start).Round(time.Millisecond)
}
