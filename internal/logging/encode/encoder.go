// Package encode serializes log records into the newline terminated JSON
// objects accepted by the ingestion endpoint.
package encode

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/Chichichkin/SplunkSink/internal/logging"
)

// TimestampLayout renders millisecond precision without a zone offset.
const TimestampLayout = "2006-01-02T15:04:05.000"

// Encode renders record and the context path active when it was produced.
// It never fails: extra fields that do not form a valid JSON object body are
// kept as a single escaped "Extra" string instead of being spliced in.
func Encode(record logging.Record, path string) []byte {
	var buf bytes.Buffer
	buf.Grow(256 + len(record.Message))

	buf.WriteByte('{')
	writeField(&buf, "timestamp", record.Timestamp.Format(TimestampLayout))
	writeField(&buf, "Level", record.Level)
	writeField(&buf, "ProcessId", strconv.Itoa(record.ProcessID))
	writeField(&buf, "ThreadId", strconv.Itoa(record.ThreadID))
	writeField(&buf, "Logger", record.Logger)

	if record.Duration != nil {
		ms := float64(*record.Duration) / 1e6
		writeField(&buf, "DurationMS", strconv.FormatFloat(ms, 'f', 1, 64))
	}
	if path != "" {
		writeField(&buf, "Path", path)
	}

	if extra, ok := normalizeExtra(record.Extra); ok {
		buf.WriteString(extra)
	} else {
		writeField(&buf, "Extra", strings.TrimSpace(record.Extra))
	}

	if ex := record.Exception; ex != nil {
		writeField(&buf, "Exception", ex.Text)
		writeField(&buf, "ExceptionType", ex.Type)
		writeField(&buf, "ExceptionMessage", ex.Message)
		writeField(&buf, "StackTrace", ex.Stack)
	}

	buf.WriteString(`"Message":"`)
	writeEscaped(&buf, record.Message)
	buf.WriteString("\"}\n")

	return buf.Bytes()
}

func writeField(buf *bytes.Buffer, name, value string) {
	buf.WriteByte('"')
	buf.WriteString(name)
	buf.WriteString(`":"`)
	writeEscaped(buf, value)
	buf.WriteString(`",`)
}

// normalizeExtra trims the fragment, turns single quotes into double quotes
// and returns it with a trailing comma. ok is false when the result is not a
// valid object body.
func normalizeExtra(extra string) (string, bool) {
	s := strings.TrimSpace(extra)
	if s == "" {
		return "", true
	}
	s = strings.ReplaceAll(s, "'", `"`)
	body := strings.TrimSpace(strings.TrimSuffix(s, ","))
	if body == "" {
		return "", true
	}
	if err := fastjson.Validate("{" + body + "}"); err != nil {
		return "", false
	}
	return body + ",", true
}

// Fragment renders a fastjson object as an extra-field fragment: the members
// without surrounding braces. Apostrophes are escaped because Encode reads
// them as quote characters.
func Fragment(obj *fastjson.Value) string {
	s := string(obj.MarshalTo(nil))
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	return strings.ReplaceAll(s, "'", `\u0027`)
}

const hexDigits = "0123456789abcdef"

func writeEscaped(buf *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			buf.WriteString(`\\`)
		case '"':
			buf.WriteString(`\"`)
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			buf.WriteString(`\n`)
		case '\n':
			buf.WriteString(`\n`)
		default:
			if c < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(hexDigits[c>>4])
				buf.WriteByte(hexDigits[c&0xf])
				continue
			}
			buf.WriteByte(c)
		}
	}
}
