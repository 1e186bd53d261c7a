package sidecar

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// DefaultTaskName is written to func sidecars whose run has no task label.
const DefaultTaskName = "UNKNOWN"

var (
	// ErrEchoTimes is returned when a phasediff sidecar cannot be given a
	// valid EchoTime1/EchoTime2 pair.
	ErrEchoTimes = errors.New("invalid fieldmap echo times")

	phaseEncodingPattern = regexp.MustCompile(`(?i)^.*(AP|PA)`)
)

// ApplyRunMeta adds the run level keys to a freshly converted sidecar:
// TaskName for func, TracerName for pet, then every bidsmap meta value.
// Keys already present are only replaced by meta values.
func ApplyRunMeta(doc *Document, datatype string, entities map[string]string, meta map[string]any) error {
	switch datatype {
	case "func":
		if !doc.Has("TaskName") {
			if err := doc.Set("TaskName", entities["task"]); err != nil {
				return err
			}
		}
	case "pet":
		if !doc.Has("TracerName") {
			if err := doc.Set("TracerName", entities["trc"]); err != nil {
				return err
			}
		}
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := doc.Set(key, meta[key]); err != nil {
			return err
		}
	}
	return nil
}

// PromoteEstimates renames the dcm2niix Estimated* timing keys to their BIDS
// names and returns the keys that were renamed.
func PromoteEstimates(doc *Document) []string {
	var renamed []string
	for _, pair := range [][2]string{
		{"EstimatedEffectiveEchoSpacing", "EffectiveEchoSpacing"},
		{"EstimatedTotalReadoutTime", "TotalReadoutTime"},
	} {
		if doc.Rename(pair[0], pair[1]) {
			renamed = append(renamed, pair[1])
		}
	}
	return renamed
}

// PhaseEncodingFromDescription maps the last AP or PA in a series
// description to a BIDS phase encoding direction. ok is false when neither
// appears.
func PhaseEncodingFromDescription(description string) (direction string, ok bool) {
	m := phaseEncodingPattern.FindStringSubmatch(description)
	if m == nil {
		return "", false
	}
	if strings.EqualFold(m[1], "AP") {
		return "j-", true
	}
	return "j", true
}

// EnsurePhaseEncoding sets PhaseEncodingDirection when the sidecar lacks it,
// derived from SeriesDescription and falling back to "j". It reports the
// value written and whether it was a fallback.
func EnsurePhaseEncoding(doc *Document) (value string, assumed bool, err error) {
	if doc.Has("PhaseEncodingDirection") {
		return "", false, nil
	}
	description, _ := doc.String("SeriesDescription")
	value, ok := PhaseEncodingFromDescription(description)
	if !ok {
		value, assumed = "j", true
	}
	return value, assumed, doc.Set("PhaseEncodingDirection", value)
}

// EnsureTaskName writes DefaultTaskName when a func sidecar has no TaskName
// or an empty one.
func EnsureTaskName(doc *Document) (bool, error) {
	if name, ok := doc.String("TaskName"); ok && strings.TrimSpace(name) != "" {
		return false, nil
	}
	return true, doc.Set("TaskName", DefaultTaskName)
}

// MagnitudePaths returns the magnitude1 and magnitude2 sidecars that belong
// to a phasediff sidecar.
func MagnitudePaths(phasediff string) [2]string {
	dir, name := filepath.Split(phasediff)
	return [2]string{
		filepath.Join(dir, strings.Replace(name, "_phasediff", "_magnitude1", 1)),
		filepath.Join(dir, strings.Replace(name, "_phasediff", "_magnitude2", 1)),
	}
}

// ApplyEchoTimes copies the EchoTime of the magnitude1 and magnitude2
// sidecars into a phasediff sidecar as EchoTime1 and EchoTime2. When either
// is missing or EchoTime1 exceeds EchoTime2 both keys are written as null
// and an error wrapping ErrEchoTimes is returned.
func ApplyEchoTimes(doc *Document) error {
	var times [2]json.RawMessage
	var values [2]float64
	var problems []string
	for i, path := range MagnitudePaths(doc.Path()) {
		mag, err := Load(path)
		if err != nil {
			problems = append(problems, fmt.Sprintf("magnitude%d sidecar %s not readable", i+1, filepath.Base(path)))
			continue
		}
		raw, ok := mag.Raw("EchoTime")
		value, isNumber := mag.Float("EchoTime")
		if !ok || !isNumber {
			problems = append(problems, fmt.Sprintf("magnitude%d sidecar %s has no EchoTime", i+1, filepath.Base(path)))
			continue
		}
		times[i] = raw
		values[i] = value
	}
	if len(problems) == 0 && values[0] > values[1] {
		problems = append(problems, fmt.Sprintf("EchoTime1=%g > EchoTime2=%g", values[0], values[1]))
	}
	if len(problems) > 0 {
		doc.SetRaw("EchoTime1", json.RawMessage("null"))
		doc.SetRaw("EchoTime2", json.RawMessage("null"))
		return fmt.Errorf("%w: %s", ErrEchoTimes, strings.Join(problems, "; "))
	}
	doc.SetRaw("EchoTime1", times[0])
	doc.SetRaw("EchoTime2", times[1])
	return nil
}

// MultibandSliceTiming returns slice onsets for an interleaved multiband
// acquisition: the slices are split into factor bands that are excited
// together, each band spreading its slices evenly over tr. Onsets are
// rounded to milliseconds.
func MultibandSliceTiming(slices, factor int, tr float64) ([]float64, error) {
	if slices <= 0 || factor <= 0 || tr <= 0 {
		return nil, fmt.Errorf("slice timing needs positive slices, factor and TR (got %d, %d, %g)", slices, factor, tr)
	}
	if slices%factor != 0 {
		return nil, fmt.Errorf("%d slices cannot be split into %d bands", slices, factor)
	}
	perBand := slices / factor
	step := tr / float64(perBand)
	timing := make([]float64, slices)
	for i := range timing {
		timing[i] = math.Round(float64(i%perBand)*step*1000) / 1000
	}
	return timing, nil
}
