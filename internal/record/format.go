package record

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Normalize turns raw peer bytes into a payload: everything after the first
// newline is dropped, the rest is bounded to max bytes, and leading and
// trailing whitespace is trimmed. An all-whitespace line yields "". The
// boolean reports whether the bound cut the line short. max is clamped to
// MaxPayload.
func Normalize(raw []byte, max int) (string, bool) {
	if max <= 0 {
		max = DefaultMaxPayload
	}
	max = min(max, MaxPayload)
	line := raw
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	truncated := false
	if len(line) > max {
		line = line[:max]
		truncated = true
	}
	return string(bytes.TrimSpace(line)), truncated
}

// Format renders rec as one capture log line without a trailing newline. A
// payload longer than MaxPayload is cut before quoting so the field stays
// closed.
func Format(rec Record) string {
	payload := rec.Payload
	if len(payload) > MaxPayload {
		payload = payload[:MaxPayload]
	}
	var b strings.Builder
	b.Grow(len(payload) + 64)
	b.WriteString(strconv.FormatInt(rec.Time.Unix(), 10))
	b.WriteByte(',')
	b.WriteString(rec.Tag())
	b.WriteByte(',')
	if rec.Addr.IsValid() {
		b.WriteString(rec.Addr.String())
	}
	b.WriteByte(',')
	b.WriteString(strconv.FormatUint(uint64(rec.Port), 10))
	b.WriteByte(',')
	writeQuoted(&b, payload)
	return b.String()
}

const hexDigits = "0123456789abcdef"

func writeQuoted(b *strings.Builder, payload string) {
	b.WriteByte('"')
	for i := 0; i < len(payload); {
		c := payload[i]
		switch {
		case c == '"':
			b.WriteString(`""`)
			i++
			continue
		case c == '\\':
			b.WriteString(`\\`)
			i++
			continue
		case c < 0x20 || c == 0x7f:
			writeHexByte(b, c)
			i++
			continue
		case c < utf8.RuneSelf:
			b.WriteByte(c)
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(payload[i:])
		if r == utf8.RuneError && size == 1 {
			writeHexByte(b, c)
			i++
			continue
		}
		b.WriteString(payload[i : i+size])
		i += size
	}
	b.WriteByte('"')
}

func writeHexByte(b *strings.Builder, c byte) {
	b.WriteString(`\x`)
	b.WriteByte(hexDigits[c>>4])
	b.WriteByte(hexDigits[c&0x0f])
}
