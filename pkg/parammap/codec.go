package parammap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	aerrors "amsaf/internal/errors"
)

// Encode writes m in elastix parameter-file syntax, one binding per line:
//
//	(Transform "AffineTransform")
//	(TransformParameters 1 0 0 0 1 0 0 0 1 0 0 0)
//
// Numeric values are written bare, everything else between double quotes
// as is. The syntax has no escapes, so a value holding a double quote is a
// configuration error and nothing is written.
func Encode(w io.Writer, m Map) error {
	for _, k := range m.keys {
		for _, v := range m.values[k] {
			if strings.ContainsRune(v, '"') {
				return aerrors.NewConfigurationError(
					fmt.Sprintf("parameter %s: value %s contains a double quote", k, v), k, "")
			}
		}
	}

	bw := bufio.NewWriter(w)
	for _, k := range m.keys {
		if _, err := fmt.Fprintf(bw, "(%s", k); err != nil {
			return err
		}
		for _, v := range m.values[k] {
			if isNumeric(v) {
				bw.WriteString(" " + v)
			} else {
				bw.WriteString(` "` + v + `"`)
			}
		}
		if _, err := bw.WriteString(")\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Decode parses elastix parameter-file syntax. Blank lines and // comments
// are skipped; quoted and bare values both decode to strings.
func Decode(r io.Reader) (Map, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	entries := make([]Entry, 0)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "(") || !strings.HasSuffix(line, ")") {
			return Map{}, fmt.Errorf("line %d: expected (Key values...), got %q", lineNo, line)
		}
		tokens, err := tokenize(line[1 : len(line)-1])
		if err != nil {
			return Map{}, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(tokens) == 0 {
			return Map{}, fmt.Errorf("line %d: empty parameter", lineNo)
		}
		entries = append(entries, Entry{Key: tokens[0], Values: Values(tokens[1:])})
	}
	if err := scanner.Err(); err != nil {
		return Map{}, err
	}
	return New(entries...), nil
}

// ReadFile decodes a parameter file from disk. A file that cannot be read is
// an IO error; one that does not parse is a configuration error.
func ReadFile(path string) (Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return Map{}, aerrors.NewIOError(path, err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return Map{}, aerrors.NewConfigurationError(fmt.Sprintf("parsing %s: %v", path, err), "", "")
	}
	return m, nil
}

// WriteFile encodes m into a parameter file on disk
func WriteFile(path string, m Map) error {
	f, err := os.Create(path)
	if err != nil {
		return aerrors.NewIOError(path, err)
	}
	if err := Encode(f, m); err != nil {
		f.Close()
		os.Remove(path)
		if aerrors.Category(err) != nil {
			return err
		}
		return aerrors.NewIOError(path, err)
	}
	if err := f.Close(); err != nil {
		return aerrors.NewIOError(path, err)
	}
	return nil
}

// Floats parses every value bound to key as a float64
func (m Map) Floats(key string) ([]float64, error) {
	values, ok := m.values[key]
	if !ok {
		return nil, fmt.Errorf("parameter %s is not set", key)
	}
	out := make([]float64, 0, len(values))
	for _, v := range values {
		// Schedules such as GridSpaceSchedule pack several numbers in one value
		for _, field := range strings.Fields(v) {
			f, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("parameter %s: %q is not a number", key, field)
			}
			out = append(out, f)
		}
	}
	return out, nil
}

// Ints parses every value bound to key as an integer. Values written as
// floats with a zero fraction ("3.000000") are accepted.
func (m Map) Ints(key string) ([]int, error) {
	floats, err := m.Floats(key)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(floats))
	for i, f := range floats {
		if f != float64(int(f)) {
			return nil, fmt.Errorf("parameter %s: %v is not an integer", key, f)
		}
		out[i] = int(f)
	}
	return out, nil
}

// Float parses the first value bound to key, falling back to def when unset
func (m Map) Float(key string, def float64) (float64, error) {
	if !m.Has(key) {
		return def, nil
	}
	floats, err := m.Floats(key)
	if err != nil {
		return 0, err
	}
	if len(floats) == 0 {
		return def, nil
	}
	return floats[0], nil
}

// Bool reports whether the first value bound to key is "true" (case-insensitive)
func (m Map) Bool(key string) bool {
	return strings.EqualFold(m.Value(key), "true")
}

// FormatFloats encodes numbers the way elastix writes them in transform files
func FormatFloats(values ...float64) Values {
	out := make(Values, len(values))
	for i, v := range values {
		out[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return out
}

// FormatInts encodes integers as parameter values
func FormatInts(values ...int) Values {
	out := make(Values, len(values))
	for i, v := range values {
		out[i] = strconv.Itoa(v)
	}
	return out
}

func isNumeric(v string) bool {
	if v == "" {
		return false
	}
	_, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return false
	}
	// ParseFloat accepts "Inf" and "NaN"; elastix expects those quoted
	lower := strings.ToLower(v)
	return !strings.Contains(lower, "inf") && !strings.Contains(lower, "nan")
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line)-1; i++ {
		switch {
		case line[i] == '"':
			inQuote = !inQuote
		case !inQuote && line[i] == '/' && line[i+1] == '/':
			return line[:i]
		}
	}
	return line
}

func tokenize(s string) ([]string, error) {
	tokens := make([]string, 0)
	i := 0
	for i < len(s) {
		switch {
		case s[i] == ' ' || s[i] == '\t':
			i++
		case s[i] == '"':
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote in %q", s)
			}
			tokens = append(tokens, s[i+1:i+1+end])
			i += end + 2
		default:
			end := strings.IndexAny(s[i:], " \t")
			if end < 0 {
				end = len(s) - i
			}
			tokens = append(tokens, s[i:i+end])
			i += end
		}
	}
	return tokens, nil
}
