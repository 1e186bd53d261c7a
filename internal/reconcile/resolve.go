package reconcile

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"bidskit/internal/bids"
)

// Resolution is the computed target for one sibling image.
type Resolution struct {
	Source    string
	Target    string
	Postfixes []Postfix
	// ImplicitEcho is set when a sibling without postfixes was treated as
	// the first echo of a multi-image acquisition.
	ImplicitEcho bool
	// Unresolved lists tokens left in Target because nothing claimed them.
	Unresolved []string
	// Notes are diagnostics for the operator; resolution never fails.
	Notes []string
}

// Changed reports whether the sibling needs a rename.
func (r Resolution) Changed() bool {
	return r.Source != r.Target
}

// Resolver computes target names without touching the filesystem.
type Resolver struct {
	schema *bids.Schema
}

// NewResolver binds a resolver to the entity table.
func NewResolver(schema *bids.Schema) *Resolver {
	return &Resolver{schema: schema}
}

// Resolve maps every sibling produced for base onto its final name. siblings
// are file names (not paths); the result follows their sorted order.
func (r *Resolver) Resolve(base string, run bids.Run, siblings []string) []Resolution {
	sorted := slices.Clone(siblings)
	sort.Strings(sorted)

	c := resolveContext{
		base:      base,
		run:       run,
		count:     len(sorted),
		echoLegal: r.schema.RunLegal(run, "echo"),
		partLegal: r.schema.RunLegal(run, "part"),
		fieldmap:  bids.IsFieldmapSuffix(run.Suffix),
	}
	c.multiEcho = c.echoLegal && hasEchoToken(base, sorted)
	out := make([]Resolution, 0, len(sorted))
	for _, sibling := range sorted {
		out = append(out, r.resolveOne(c, sibling))
	}
	return out
}

type resolveContext struct {
	base      string
	run       bids.Run
	count     int
	echoLegal bool
	partLegal bool
	fieldmap  bool
	// multiEcho is set when a sibling carries an e<N> postfix.
	multiEcho bool
}

func hasEchoToken(base string, siblings []string) bool {
	for _, sibling := range siblings {
		tokens, _, ok := Decompose(base, sibling)
		if !ok {
			continue
		}
		for _, token := range tokens {
			if classify(token) == RoleEchoIndex {
				return true
			}
		}
	}
	return false
}

func (r *Resolver) resolveOne(c resolveContext, sibling string) Resolution {
	res := Resolution{Source: sibling, Target: sibling}
	tokens, ext, ok := Decompose(c.base, sibling)
	if !ok {
		res.Notes = append(res.Notes, fmt.Sprintf("%s does not start with %s, left unchanged", sibling, c.base))
		return res
	}
	stem := strings.TrimSuffix(sibling, ext)

	if len(tokens) == 0 && stem == c.base && c.count > 1 && (c.multiEcho || c.fieldmap) {
		tokens = []string{"e1"}
		stem += "_e1"
		res.ImplicitEcho = true
	}
	name := stem + ext

	if c.fieldmap && !slices.Contains(KnownSiblingCounts, c.count) {
		res.Notes = append(res.Notes, fmt.Sprintf("unknown fieldmap layout with %d images, applying unconditional rules only", c.count))
	}
	if c.fieldmap && len(tokens) == 0 {
		name = RewriteFieldmap(name, c.count)
	}

	for _, token := range tokens {
		p := Postfix{Token: token, Role: classify(token)}
		consumed := true
		switch {
		case c.echoLegal && strings.HasPrefix(token, "e"):
			if n, ok := echoNumber(token); ok {
				p.Role = RoleEchoIndex
				p.Value = strconv.Itoa(n)
				name = r.schema.InsertEntity(name, "echo", p.Value)
			} else {
				p.Role = RoleUnclassified
				name = r.appendAcq(name, token)
				res.Notes = append(res.Notes, fmt.Sprintf("unexpected echo postfix %q, appended to acq label", token))
			}
		case c.partLegal && partValue(p.Role) != "":
			p.Value = partValue(p.Role)
			name = r.schema.InsertEntity(name, "part", p.Value)
		case c.fieldmap:
			p.Role = RoleFieldmap
			name = RewriteFieldmap(name, c.count)
			if containsToken(name, token) {
				consumed = false
				res.Unresolved = append(res.Unresolved, token)
				res.Notes = append(res.Notes, fmt.Sprintf("fieldmap postfix %q not covered by the rewrite table, kept in name", token))
			}
		default:
			name = r.appendAcq(name, token)
			p.Value = bids.GetValue(name, "acq")
			if p.Role == RoleCoilIndex {
				res.Notes = append(res.Notes, fmt.Sprintf("coil postfix %q appended to acq label", token))
			}
		}
		if consumed {
			name = stripToken(name, token)
		}
		res.Postfixes = append(res.Postfixes, p)
	}
	res.Target = name
	return res
}

func (r *Resolver) appendAcq(name, token string) string {
	cleaned := bids.CleanLabel(token)
	if cleaned == "" {
		return name
	}
	return r.schema.AppendLabel(name, "acq", cleaned)
}
