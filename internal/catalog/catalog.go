// Package catalog compiles the deployment document: the course catalog
// the server prices checkouts from, plus the environment/gateway
// pairing policy. The document is CUE, unified against an embedded
// schema, so a deployment with a zero price or production credentials
// pointing at the sandbox never boots.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// Course is one sellable course. PriceCents is the only price the
// checkout pipeline ever charges; client-declared amounts are ignored.
type Course struct {
	Slug            string `json:"slug"`
	Title           string `json:"title"`
	PriceCents      int64  `json:"price_cents"`
	MaxInstallments int    `json:"max_installments"`
}

// Catalog is a compiled, validated deployment document.
type Catalog struct {
	Environment    string
	GatewayMode    string
	APIKeyPrefix   string
	courses        map[string]Course
	orderedCourses []Course
}

type document struct {
	Environment string `json:"environment"`
	Gateway     struct {
		Mode         string `json:"mode"`
		APIKeyPrefix string `json:"api_key_prefix"`
	} `json:"gateway"`
	Courses map[string]Course `json:"courses"`
}

// Load reads and compiles the deployment document at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Compile(path, data)
}

// Compile unifies a deployment document against the embedded schema and
// decodes it. name is used for error positions only.
func Compile(name string, data []byte) (*Catalog, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("catalog schema: %w", err)
	}

	doc := ctx.CompileBytes(data, cue.Filename(name))
	if err := doc.Err(); err != nil {
		return nil, compileError("parsing catalog", err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return nil, compileError("validating catalog", err)
	}

	var d document
	if err := unified.Decode(&d); err != nil {
		return nil, compileError("decoding catalog", err)
	}
	if len(d.Courses) == 0 {
		return nil, fmt.Errorf("validating catalog: no courses defined")
	}

	cat := &Catalog{
		Environment:  d.Environment,
		GatewayMode:  d.Gateway.Mode,
		APIKeyPrefix: d.Gateway.APIKeyPrefix,
		courses:      d.Courses,
	}
	for _, c := range d.Courses {
		cat.orderedCourses = append(cat.orderedCourses, c)
	}
	sort.Slice(cat.orderedCourses, func(i, j int) bool {
		return cat.orderedCourses[i].Slug < cat.orderedCourses[j].Slug
	})
	return cat, nil
}

// Course looks up a course by slug.
func (c *Catalog) Course(slug string) (Course, bool) {
	course, ok := c.courses[slug]
	return course, ok
}

// Courses returns every course ordered by slug.
func (c *Catalog) Courses() []Course {
	out := make([]Course, len(c.orderedCourses))
	copy(out, c.orderedCourses)
	return out
}

// compileError flattens CUE's error list into one readable message with
// file positions, matching how validation failures are reported to
// operators running `chargeonce validate`.
func compileError(context string, err error) error {
	if list := cueerrors.Errors(err); len(list) > 0 {
		return fmt.Errorf("%s: %s", context, cueerrors.Details(err, nil))
	}
	return fmt.Errorf("%s: %w", context, err)
}
