package reconcile

import (
	"strconv"
	"strings"

	"bidskit/internal/bids"
)

// Role is what a postfix token was taken to mean.
type Role int

const (
	RoleUnclassified Role = iota
	RoleEchoIndex
	RoleCoilIndex
	RolePhase
	RoleReal
	RoleImaginary
	RoleCrop
	RoleFieldmap
)

func (r Role) String() string {
	switch r {
	case RoleEchoIndex:
		return "echo-index"
	case RoleCoilIndex:
		return "coil-index"
	case RolePhase:
		return "phase-component"
	case RoleReal:
		return "real-component"
	case RoleImaginary:
		return "imaginary-component"
	case RoleCrop:
		return "crop-marker"
	case RoleFieldmap:
		return "fieldmap-role-transition"
	default:
		return "unclassified"
	}
}

// Postfix is one classified token.
type Postfix struct {
	Token string
	Role  Role
	// Value is the entity value the token produced (echo number, part label).
	Value string
}

// Decompose splits a converter output name into its postfix tokens and
// extension. ok is false when filename does not start with base.
func Decompose(base, filename string) (tokens []string, ext string, ok bool) {
	stem, ext := bids.SplitExt(filename)
	if !strings.HasPrefix(stem, base) {
		return nil, ext, false
	}
	rest := stem[len(base):]
	parts := strings.Split(rest, "_")
	for _, part := range parts[1:] {
		if part != "" {
			tokens = append(tokens, part)
		}
	}
	return tokens, ext, true
}

// classify reports the lexical kind of a token, ignoring whether the run
// allows the matching entity.
func classify(token string) Role {
	switch {
	case token == "ph":
		return RolePhase
	case token == "real":
		return RoleReal
	case token == "imaginary":
		return RoleImaginary
	case token == "Crop":
		return RoleCrop
	case isIndexed(token, "e"):
		return RoleEchoIndex
	case isIndexed(token, "c") && len(token) > 1:
		return RoleCoilIndex
	default:
		return RoleUnclassified
	}
}

// isIndexed reports whether token is prefix followed by zero or more digits.
func isIndexed(token, prefix string) bool {
	rest, ok := strings.CutPrefix(token, prefix)
	if !ok {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// echoNumber parses e<N>; a bare "e" is the first echo.
func echoNumber(token string) (int, bool) {
	if !isIndexed(token, "e") {
		return 0, false
	}
	digits := token[1:]
	if digits == "" {
		return 1, true
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func partValue(role Role) string {
	switch role {
	case RolePhase:
		return "phase"
	case RoleReal:
		return "real"
	case RoleImaginary:
		return "imag"
	default:
		return ""
	}
}

// stripToken removes a consumed token wherever it sits between separators.
func stripToken(name, token string) string {
	name = strings.ReplaceAll(name, "_"+token+"_", "_")
	return strings.ReplaceAll(name, "_"+token+".", ".")
}

func containsToken(name, token string) bool {
	return strings.Contains(name, "_"+token+"_") || strings.Contains(name, "_"+token+".")
}
