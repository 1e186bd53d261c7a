package scans

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"

	"bidskit/internal/sidecar"
)

const participantIndex = "participant_id"

// Personals are the participant columns collected from a source header.
type Personals struct {
	SessionID string
	Age       string
	Sex       string
	Size      string
	Weight    string
}

// AttributeReader is the header access the personals need.
type AttributeReader interface {
	Attribute(key string) (string, bool)
}

// CollectPersonals reads the participant fields. Only DICOM headers carry
// them; a nil reader yields just the session id.
func CollectPersonals(session string, header AttributeReader) Personals {
	p := Personals{SessionID: session}
	if header == nil {
		return p
	}
	attr := func(key string) string {
		v, _ := header.Attribute(key)
		return strings.TrimSpace(v)
	}
	p.Age = ParseAge(attr("PatientAge"))
	p.Sex = attr("PatientSex")
	p.Size = attr("PatientSize")
	p.Weight = attr("PatientWeight")
	return p
}

// ParseAge converts a DICOM age string (nnnD, nnnW, nnnM or nnnY) to whole
// years. Other non-empty values are returned unchanged.
func ParseAge(age string) string {
	age = strings.TrimSpace(age)
	if age == "" {
		return ""
	}
	divisors := map[byte]float64{'D': 365.2524, 'W': 52.1775, 'M': 12, 'Y': 1}
	unit := age[len(age)-1]
	divisor, ok := divisors[unit]
	if !ok {
		return age
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(age[:len(age)-1]), 64)
	if err != nil {
		return age
	}
	return strconv.Itoa(int(n / divisor))
}

func (p Personals) columns() [][2]string {
	cols := [][2]string{}
	if p.SessionID != "" {
		cols = append(cols, [2]string{"session_id", p.SessionID})
	}
	return append(cols,
		[2]string{"age", p.Age},
		[2]string{"sex", p.Sex},
		[2]string{"size", p.Size},
		[2]string{"weight", p.Weight},
	)
}

type columnDescription struct {
	LongName    string            `json:"LongName,omitempty"`
	Description string            `json:"Description,omitempty"`
	Levels      map[string]string `json:"Levels,omitempty"`
	Units       string            `json:"Units,omitempty"`
}

func templateDescription() columnDescription {
	return columnDescription{
		LongName:    "Long (unabbreviated) name of the column",
		Description: "Description of the the column",
		Levels:      map[string]string{"Key": "Value (This is for categorical variables: a dictionary of possible values (keys) and their descriptions (values))"},
		Units:       "Measurement units. [<prefix symbol>]<unit symbol> format following the SI standard is RECOMMENDED",
	}
}

// UpdateParticipants adds subject to participants.tsv in bidsFolder and
// describes new columns in participants.json. Subjects that already have a
// session_id keep the values of their first session; written reports
// whether the table changed. With no session label the DICOM fields are
// only written for subjects not yet listed.
func UpdateParticipants(bidsFolder, subject string, p Personals) (written bool, err error) {
	tsvPath := filepath.Join(bidsFolder, "participants.tsv")
	jsonPath := filepath.Join(bidsFolder, "participants.json")

	table, err := ReadTable(tsvPath, participantIndex)
	if err != nil {
		return false, err
	}
	if table.Has(subject) && (table.Get(subject, "session_id") != "" || p.SessionID == "") {
		return false, nil
	}

	dict, err := sidecar.Load(jsonPath)
	if errors.Is(err, fs.ErrNotExist) {
		dict = sidecar.New(jsonPath)
		err = dict.Set(participantIndex, columnDescription{Description: "Unique participant identifier"})
	}
	if err != nil {
		return false, err
	}

	newKeys := false
	for _, col := range p.columns() {
		table.Set(subject, col[0], col[1])
		if !dict.Has(col[0]) {
			newKeys = true
			if err := dict.Set(col[0], templateDescription()); err != nil {
				return false, err
			}
		}
	}
	if err := table.Write(tsvPath, nil); err != nil {
		return false, err
	}
	if newKeys {
		if err := dict.Save(); err != nil {
			return true, err
		}
	}
	return true, nil
}
