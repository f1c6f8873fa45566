package query

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Event is one decoded Windows event log record
type Event struct {
	ID       int       `json:"id"`
	Level    int       `json:"level"`
	Provider string    `json:"provider"`
	Channel  string    `json:"channel"`
	Time     time.Time `json:"time"`
}

// Windows event levels
const (
	LevelCritical = 1
	LevelError    = 2
	LevelWarning  = 3
	LevelInfo     = 4
)

type commandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// EventLogSource queries Windows event log channels through wevtutil
type EventLogSource struct {
	run       commandRunner
	goos      string
	maxEvents int
}

// NewEventLogSource returns a source backed by the local wevtutil binary
func NewEventLogSource() *EventLogSource {
	return &EventLogSource{
		run:       runCommand,
		goos:      runtime.GOOS,
		maxEvents: 200,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (s *EventLogSource) available(channel string) error {
	if s.goos != "windows" {
		return &SourceError{Source: channel, Op: "query", Err: fmt.Errorf("%w: event log unavailable on %s", ErrNotFound, s.goos)}
	}
	return nil
}

// Query returns matching events newest first
func (s *EventLogSource) Query(ctx context.Context, req Request) (Payload, error) {
	if err := s.available(req.Source); err != nil {
		return Payload{}, err
	}

	max := req.MaxEvents
	if max <= 0 {
		max = s.maxEvents
	}
	args := []string{"qe", req.Source, "/rd:true", "/f:xml", "/c:" + strconv.Itoa(max)}
	if q := BuildXPath(req); q != "" {
		args = append(args, "/q:"+q)
	}

	stdout, stderr, err := s.run(ctx, "wevtutil", args...)
	if err != nil {
		return Payload{}, commandError(req.Source, "query", stderr, err)
	}

	events, err := ParseEvents(stdout)
	if err != nil {
		return Payload{}, &SourceError{Source: req.Source, Op: "query", Err: err}
	}
	return Payload{Data: events, Count: len(events)}, nil
}

// Count returns the channel's total record count from its metadata
func (s *EventLogSource) Count(ctx context.Context, source string) (int, error) {
	if err := s.available(source); err != nil {
		return 0, err
	}

	stdout, stderr, err := s.run(ctx, "wevtutil", "gli", source)
	if err != nil {
		return 0, commandError(source, "count", stderr, err)
	}
	return parseRecordCount(stdout)
}

func commandError(source, op string, stderr []byte, err error) error {
	msg := strings.TrimSpace(string(stderr))
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "access is denied"):
		err = fmt.Errorf("%w: %s", ErrAccessDenied, msg)
	case strings.Contains(lower, "could not be found"), strings.Contains(lower, "does not exist"):
		err = fmt.Errorf("%w: %s", ErrNotFound, msg)
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	case msg != "":
		err = fmt.Errorf("%s: %w", msg, err)
	}
	return &SourceError{Source: source, Op: op, Err: err}
}

// BuildXPath renders the level and time constraints of req as a wevtutil XPath query.
// Returns "" when req has no constraints.
func BuildXPath(req Request) string {
	var conds []string

	if len(req.Level) > 0 {
		levels := make([]string, 0, len(req.Level))
		for _, l := range req.Level {
			levels = append(levels, "Level="+strconv.Itoa(l))
		}
		conds = append(conds, "("+strings.Join(levels, " or ")+")")
	}
	if len(req.EventIDs) > 0 {
		ids := make([]string, 0, len(req.EventIDs))
		for _, id := range req.EventIDs {
			ids = append(ids, "EventID="+strconv.Itoa(id))
		}
		conds = append(conds, "("+strings.Join(ids, " or ")+")")
	}

	var times []string
	if req.Start != nil {
		times = append(times, "@SystemTime>='"+req.Start.UTC().Format("2006-01-02T15:04:05.000Z")+"'")
	}
	if req.End != nil {
		times = append(times, "@SystemTime<='"+req.End.UTC().Format("2006-01-02T15:04:05.000Z")+"'")
	}
	if len(times) > 0 {
		conds = append(conds, "TimeCreated["+strings.Join(times, " and ")+"]")
	}

	if len(conds) == 0 {
		return ""
	}
	return "*[System[" + strings.Join(conds, " and ") + "]]"
}

type xmlEvent struct {
	System struct {
		Provider struct {
			Name string `xml:"Name,attr"`
		} `xml:"Provider"`
		EventID     string `xml:"EventID"`
		Level       int    `xml:"Level"`
		TimeCreated struct {
			SystemTime string `xml:"SystemTime,attr"`
		} `xml:"TimeCreated"`
		Channel string `xml:"Channel"`
	} `xml:"System"`
}

// ParseEvents decodes the root-less <Event> stream wevtutil prints with /f:xml
func ParseEvents(data []byte) ([]Event, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var events []Event
	for {
		var raw xmlEvent
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return events, fmt.Errorf("decode event %d: %w", len(events)+1, err)
		}

		id, err := strconv.Atoi(strings.TrimSpace(raw.System.EventID))
		if err != nil {
			return events, fmt.Errorf("event %d: bad EventID %q", len(events)+1, raw.System.EventID)
		}
		ev := Event{
			ID:       id,
			Level:    raw.System.Level,
			Provider: raw.System.Provider.Name,
			Channel:  raw.System.Channel,
		}
		if ts := raw.System.TimeCreated.SystemTime; ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				ev.Time = t
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseRecordCount(out []byte) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if ok && strings.TrimSpace(key) == "numberOfLogRecords" {
			return strconv.Atoi(strings.TrimSpace(value))
		}
	}
	return 0, errors.New("numberOfLogRecords missing from wevtutil gli output")
}
