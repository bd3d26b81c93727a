// Package dataset reads and writes the JSONL files a benchmark run works
// with: queries, docs, qrels and run output.
package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"

	"github.com/tidwall/gjson"

	rferrors "github.com/Aman-CERP/rankfuse/internal/errors"
)

// maxLineBytes bounds one JSONL record. Full-text corpora carry long docs.
const maxLineBytes = 64 << 20

// AnomalyFunc receives records that were skipped while reading.
type AnomalyFunc func(anomaly *rferrors.RankError)

// scanJSONL calls fn for each non-blank line of path with the parsed
// record. A line that is not valid JSON fails the read.
func scanJSONL(path string, fn func(lineNo int, rec gjson.Result) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rferrors.New(rferrors.ErrCodeFileNotFound,
				fmt.Sprintf("file not found: %s", path), err)
		}
		return rferrors.IOError(fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return malformed(path, lineNo, "invalid JSON")
		}
		if err := fn(lineNo, gjson.ParseBytes(line)); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return rferrors.IOError(fmt.Sprintf("failed to read %s", path), err).
			WithDetail("line", strconv.Itoa(lineNo+1))
	}
	return nil
}

func malformed(path string, lineNo int, reason string) *rferrors.RankError {
	return rferrors.New(rferrors.ErrCodeMalformedInput,
		fmt.Sprintf("%s:%d: %s", path, lineNo, reason), nil).
		WithDetail("path", path).
		WithDetail("line", strconv.Itoa(lineNo))
}

func skipped(path string, lineNo int, reason string) *rferrors.RankError {
	return rferrors.DataAnomaly(rferrors.ErrCodeRecordSkipped,
		fmt.Sprintf("%s:%d: %s", path, lineNo, reason)).
		WithDetail("path", path).
		WithDetail("line", strconv.Itoa(lineNo))
}

// idString renders an id field. Numeric ids keep their JSON spelling, so
// 42 becomes "42". Missing, null, object and array values are not ids.
func idString(r gjson.Result) (string, bool) {
	switch r.Type {
	case gjson.String:
		return r.Str, true
	case gjson.Number:
		return r.Raw, true
	default:
		return "", false
	}
}
