// Package logscan reads the JSON log file written by the logger and reports
// on narration upstream calls: failures, provider rate limits and slow
// responses.
package logscan

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

type Filter string

const (
	FilterErrors     Filter = "errors"
	FilterRateLimits Filter = "rate-limits"
	FilterSlow       Filter = "slow"
	FilterAll        Filter = "all"
)

const (
	DefaultLines         = 100
	DefaultSlowThreshold = int64(5000)

	eventPrefix    = "narration.upstream."
	eventFailed    = "narration.upstream.failed"
	eventCompleted = "narration.upstream.completed"

	maxLineBytes = 1 << 20
)

var (
	ErrInvalidFilter = errors.New("invalid_filter")
	ErrNoLogFile     = errors.New("log_file_not_configured")
)

func ParseFilter(raw string) (Filter, error) {
	f := Filter(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case FilterErrors, FilterRateLimits, FilterSlow, FilterAll:
		return f, nil
	case "":
		return FilterAll, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, raw)
	}
}

// Entry is one narration upstream event.
type Entry struct {
	Time           string `json:"time"`
	Level          string `json:"level"`
	Message        string `json:"message"`
	UserID         int64  `json:"user_id"`
	ServiceType    string `json:"service_type"`
	StatusCode     int    `json:"status_code,omitempty"`
	RateLimited    bool   `json:"rate_limited"`
	ResponseTimeMS int64  `json:"response_time_ms"`
	Details        string `json:"details,omitempty"`
}

func (e Entry) Failed() bool { return e.Message == eventFailed }

func (e Entry) IsRateLimit() bool {
	return e.RateLimited || e.StatusCode == 429
}

type Stats struct {
	Total             int     `json:"total"`
	Completed         int     `json:"completed"`
	Errors            int     `json:"errors"`
	RateLimits        int     `json:"rate_limits"`
	Slow              int     `json:"slow"`
	AvgResponseTimeMS float64 `json:"avg_response_time_ms"`
}

type Scanner struct {
	path   string
	slowMS int64
}

func New(path string, slowThresholdMS int64) *Scanner {
	if slowThresholdMS <= 0 {
		slowThresholdMS = DefaultSlowThreshold
	}
	return &Scanner{path: path, slowMS: slowThresholdMS}
}

// Scan returns the narration events among the last lines of the log that
// match filter, oldest first.
func (s *Scanner) Scan(filter Filter, lines int) ([]Entry, error) {
	entries, err := s.entries(lines)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if s.match(filter, e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Scanner) Stats(lines int) (Stats, error) {
	entries, err := s.entries(lines)
	if err != nil {
		return Stats{}, err
	}
	var (
		st        Stats
		timed     int
		totalTime int64
	)
	for _, e := range entries {
		st.Total++
		if e.Failed() {
			if e.Level == "error" {
				st.Errors++
			}
		} else {
			st.Completed++
		}
		if e.IsRateLimit() {
			st.RateLimits++
		}
		if e.ResponseTimeMS > s.slowMS {
			st.Slow++
		}
		if e.ResponseTimeMS > 0 {
			timed++
			totalTime += e.ResponseTimeMS
		}
	}
	if timed > 0 {
		st.AvgResponseTimeMS = float64(totalTime) / float64(timed)
	}
	return st, nil
}

func (s *Scanner) match(filter Filter, e Entry) bool {
	switch filter {
	case FilterErrors:
		return e.Level == "error"
	case FilterRateLimits:
		return e.IsRateLimit()
	case FilterSlow:
		return e.ResponseTimeMS > s.slowMS
	default:
		return true
	}
}

func (s *Scanner) entries(lines int) ([]Entry, error) {
	raw, err := s.tail(lines)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, line := range raw {
		if e, ok := parseLine(line); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func parseLine(line string) (Entry, bool) {
	if !gjson.Valid(line) {
		return Entry{}, false
	}
	doc := gjson.Parse(line)
	msg := doc.Get("msg").String()
	if !strings.HasPrefix(msg, eventPrefix) {
		return Entry{}, false
	}
	return Entry{
		Time:           doc.Get("ts").String(),
		Level:          doc.Get("level").String(),
		Message:        msg,
		UserID:         doc.Get("user_id").Int(),
		ServiceType:    doc.Get("service_type").String(),
		StatusCode:     int(doc.Get("status_code").Int()),
		RateLimited:    doc.Get("rate_limited").Bool(),
		ResponseTimeMS: doc.Get("response_time_ms").Int(),
		Details:        doc.Get("details").String(),
	}, true
}

// tail returns the last n lines of the log file.
func (s *Scanner) tail(n int) ([]string, error) {
	if strings.TrimSpace(s.path) == "" {
		return nil, ErrNoLogFile
	}
	if n <= 0 {
		n = DefaultLines
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		ring[count%n] = sc.Text()
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}
