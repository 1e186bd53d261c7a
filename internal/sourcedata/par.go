package sourcedata

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// parAliases maps PAR general-information labels onto the short keys the
// bidsmap uses.
var parAliases = map[string]string{
	"patient name":                    "patient_name",
	"examination name":                "exam_name",
	"protocol name":                   "protocol_name",
	"examination date/time":           "exam_date",
	"series type":                     "series_type",
	"acquisition nr":                  "acq_nr",
	"reconstruction nr":               "recon_nr",
	"scan duration":                   "scan_duration",
	"max. number of cardiac phases":   "max_cardiac_phases",
	"max. number of echoes":           "max_echoes",
	"max. number of slices/locations": "max_slices",
	"max. number of dynamics":         "max_dynamics",
	"max. number of mixes":            "max_mixes",
	"patient position":                "patient_position",
	"preparation direction":           "prep_direction",
	"technique":                       "tech",
	"scan resolution":                 "scan_resolution",
	"scan mode":                       "scan_mode",
	"repetition time":                 "repetition_time",
	"fov (ap,fh,rl)":                  "fov",
	"water fat shift":                 "water_fat_shift",
	"angulation midslice(ap,fh,rl)":   "angulation",
	"off centre midslice(ap,fh,rl)":   "off_center",
	"flow compensation":               "flow_compensation",
	"presaturation":                   "presaturation",
	"phase encoding velocity":         "phase_enc_velocity",
	"mtc":                             "mtc",
	"spir":                            "spir",
	"epi factor":                      "epi_factor",
	"dynamic scan":                    "dyn_scan",
	"diffusion":                       "diffusion",
	"diffusion echo time":             "diffusion_echo_time",
	"max. number of diffusion values": "max_diffusion_values",
	"max. number of gradient orients": "max_gradient_orient",
	"number of label types":           "nr_label_types",
}

var (
	parUnits   = regexp.MustCompile(`\[[^\]]*\]|<[^>]*>|\?`)
	parKeyChar = regexp.MustCompile(`[^a-z0-9]+`)
)

// PARReader holds the general-information block of a PAR header.
type PARReader struct {
	values map[string]string
}

// IsPAR reports whether path looks like a PAR header file.
func IsPAR(path string) bool {
	return strings.EqualFold(strings.TrimPrefix(filepath.Ext(path), "."), "par")
}

// OpenPAR reads the general-information lines of a PAR file.
func OpenPAR(path string) (*PARReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open par %s: %w", path, err)
	}
	defer f.Close()

	r := &PARReader{values: map[string]string{}}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		r.parseLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read par %s: %w", path, err)
	}
	if len(r.values) == 0 {
		return nil, fmt.Errorf("read par %s: no general information block", path)
	}
	return r, nil
}

// ParsePAR builds a reader from header text.
func ParsePAR(text string) *PARReader {
	r := &PARReader{values: map[string]string{}}
	for _, line := range strings.Split(text, "\n") {
		r.parseLine(line)
	}
	return r
}

func (r *PARReader) parseLine(line string) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, ".") {
		return
	}
	label, value, ok := strings.Cut(strings.TrimPrefix(line, "."), ":")
	if !ok {
		return
	}
	key := parKey(label)
	if key == "" {
		return
	}
	r.values[key] = strings.Join(strings.Fields(value), " ")
}

func parKey(label string) string {
	cleaned := strings.ToLower(strings.TrimSpace(parUnits.ReplaceAllString(label, "")))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if alias, ok := parAliases[cleaned]; ok {
		return alias
	}
	return strings.Trim(parKeyChar.ReplaceAllString(cleaned, "_"), "_")
}

// Attribute looks key up by short key (protocol_name) or by header label
// ("Protocol name").
func (r *PARReader) Attribute(key string) (string, bool) {
	if v, ok := r.values[key]; ok {
		return v, true
	}
	v, ok := r.values[parKey(key)]
	return v, ok
}
