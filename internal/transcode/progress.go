package transcode

import (
	"strconv"
	"strings"
	"time"
)

// progressParser turns ffmpeg stderr into an encoded/total ratio. The total
// comes from the input "Duration:" header; the position from the machine
// readable out_time_us= lines written by -progress.
type progressParser struct {
	total time.Duration
	last  float64
}

// feed consumes one stderr line and reports whether the ratio advanced.
func (p *progressParser) feed(line string) (float64, bool) {
	switch {
	case strings.HasPrefix(line, "Duration:"):
		if d, ok := parseDurationHeader(line); ok && p.total == 0 {
			p.total = d
		}
		return p.last, false
	case strings.HasPrefix(line, "out_time_us="), strings.HasPrefix(line, "out_time_ms="):
		// ffmpeg reports microseconds under both keys.
		us, err := strconv.ParseInt(strings.TrimSpace(line[strings.IndexByte(line, '=')+1:]), 10, 64)
		if err != nil || us < 0 || p.total <= 0 {
			return p.last, false
		}
		return p.advance(float64(time.Duration(us)*time.Microsecond) / float64(p.total))
	case line == "progress=end":
		return p.advance(1)
	default:
		return p.last, false
	}
}

func (p *progressParser) advance(ratio float64) (float64, bool) {
	if ratio > 1 {
		ratio = 1
	}
	if ratio <= p.last {
		return p.last, false
	}
	p.last = ratio
	return ratio, true
}

// parseDurationHeader reads "Duration: HH:MM:SS.ss, start: ...".
func parseDurationHeader(line string) (time.Duration, bool) {
	rest := strings.TrimSpace(strings.TrimPrefix(line, "Duration:"))
	if i := strings.IndexByte(rest, ','); i >= 0 {
		rest = rest[:i]
	}

	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}

	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return d, d > 0
}
