// Package analysis derives rough figures from rga's per-stage artifacts: an
// occupancy estimate from the analysis CSV, label offsets and register
// references from the ISA text.
package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Lower bounds below which a resource never limits occupancy.
const (
	MinSGPR     = 6
	MinVGPR     = 4
	MinLDSBytes = 16384
)

// ErrNoAnalysisRow is returned when the analysis CSV has a header but no data.
var ErrNoAnalysisRow = errors.New("analysis: no data row")

// Record is the first row of an analysis CSV with lower-cased keys.
type Record map[string]string

// Int returns the numeric value of key.
func (r Record) Int(key string) (int64, bool) {
	v, ok := r[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Occupancy is the predicted fraction of peak occupancy per resource, in [0, 1].
type Occupancy struct {
	SGPR    float64 `json:"sgpr" yaml:"sgpr"`
	VGPR    float64 `json:"vgpr" yaml:"vgpr"`
	LDS     float64 `json:"lds" yaml:"lds"`
	Overall float64 `json:"overall" yaml:"overall"`
}

// Limiter names the resource holding occupancy down, or "" when none does.
func (o Occupancy) Limiter() string {
	if o.Overall >= 1 {
		return ""
	}
	switch o.Overall {
	case o.VGPR:
		return "vgpr"
	case o.SGPR:
		return "sgpr"
	default:
		return "lds"
	}
}

// ReadRecord reads the first data row of the analysis CSV at path.
func ReadRecord(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseRecord(f)
}

// ParseRecord reads the first data row of an analysis CSV.
func ParseRecord(r io.Reader) (Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoAnalysisRow
		}
		return nil, fmt.Errorf("failed to read analysis header: %w", err)
	}
	row, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoAnalysisRow
		}
		return nil, fmt.Errorf("failed to read analysis row: %w", err)
	}

	record := make(Record, len(header))
	for i, key := range header {
		if i >= len(row) {
			break
		}
		record[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(row[i])
	}
	return record, nil
}

// predict returns 1 - clamp((used-min)/max(1, available-min), 0, 1).
func predict(used, available, minimum int64) float64 {
	ratio := float64(used-minimum) / float64(max(1, available-minimum))
	return 1 - min(1, max(0, ratio))
}

func predictPair(r Record, usedKey, availableKey string, minimum int64) float64 {
	used, ok := r.Int(usedKey)
	if !ok {
		return 1
	}
	available, ok := r.Int(availableKey)
	if !ok {
		return 1
	}
	return predict(used, available, minimum)
}

// Estimate predicts occupancy from an analysis record. A resource whose used or
// available column is missing is treated as unconstrained.
func Estimate(r Record) Occupancy {
	o := Occupancy{
		SGPR: predictPair(r, "used_sgprs", "available_sgprs", MinSGPR),
		VGPR: predictPair(r, "used_vgprs", "available_vgprs", MinVGPR),
		LDS:  predictPair(r, "used_lds_bytes", "available_lds_bytes", MinLDSBytes),
	}
	o.Overall = min(o.SGPR, o.VGPR, o.LDS)
	return o
}

// EstimateFile reads the analysis CSV at path and estimates occupancy.
func EstimateFile(path string) (Occupancy, Record, error) {
	r, err := ReadRecord(path)
	if err != nil {
		return Occupancy{}, nil, err
	}
	return Estimate(r), r, nil
}
