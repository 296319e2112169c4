package record

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

const maxScanLine = 1 << 20

// Parse reads one capture log line back into a Record. Truncated is never
// set because the rendered line does not carry it.
func Parse(line string) (Record, error) {
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = 5
	fields, err := reader.Read()
	if err != nil {
		return Record{}, fmt.Errorf("parse record: %w", err)
	}

	epoch, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse record time %q: %w", fields[0], err)
	}
	protocol, family, err := ParseTag(fields[1])
	if err != nil {
		return Record{}, fmt.Errorf("parse record: %w", err)
	}
	var addr netip.Addr
	if fields[2] != "" {
		addr, err = netip.ParseAddr(fields[2])
		if err != nil {
			return Record{}, fmt.Errorf("parse record address: %w", err)
		}
	}
	port, err := strconv.ParseUint(fields[3], 10, 16)
	if err != nil {
		return Record{}, fmt.Errorf("parse record port %q: %w", fields[3], err)
	}
	payload, err := unescape(fields[4])
	if err != nil {
		return Record{}, fmt.Errorf("parse record payload: %w", err)
	}
	return Record{
		Time:     time.Unix(epoch, 0),
		Protocol: protocol,
		Family:   family,
		Addr:     addr,
		Port:     uint16(port),
		Payload:  payload,
	}, nil
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		if i+1 >= len(s) {
			return "", errors.New("dangling escape")
		}
		switch s[i+1] {
		case '\\':
			b.WriteByte('\\')
			i++
		case 'x':
			if i+4 > len(s) {
				return "", fmt.Errorf("short hex escape at %d", i)
			}
			v, err := strconv.ParseUint(s[i+2:i+4], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid hex escape %q", s[i:i+4])
			}
			b.WriteByte(byte(v))
			i += 3
		default:
			return "", fmt.Errorf("unknown escape %q", s[i:i+2])
		}
	}
	return b.String(), nil
}

// Summary is the result of reading a capture log.
type Summary struct {
	// Records holds the last records read, oldest first.
	Records []Record
	// Total counts every well-formed line, including ones not kept.
	Total int
	// Malformed counts lines that did not parse.
	Malformed int
}

// Read parses capture log lines from r. When limit is positive only the last
// limit records are kept.
func Read(r io.Reader, limit int) (Summary, error) {
	var summary Summary
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanLine)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := Parse(line)
		if err != nil {
			summary.Malformed++
			continue
		}
		summary.Total++
		summary.Records = append(summary.Records, rec)
		if limit > 0 && len(summary.Records) > limit {
			summary.Records = summary.Records[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read capture log: %w", err)
	}
	return summary, nil
}
