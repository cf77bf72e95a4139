package signals

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
	"github.com/StricklySoft/auth-gateway/pkg/token"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

// Schema tests decoded SET claims against one event kind's JSON schema.
type Schema struct {
	kind   Kind
	schema *gojsonschema.Schema
}

// Kind returns the event kind the schema selects.
func (s *Schema) Kind() Kind { return s.kind }

// Match reports whether claims satisfy the schema. The second result lists
// the violations when they do not.
func (s *Schema) Match(claims token.Claims) (bool, []string) {
	res, err := s.schema.Validate(gojsonschema.NewGoLoader(map[string]any(claims)))
	if err != nil {
		return false, []string{err.Error()}
	}
	if res.Valid() {
		return true, nil
	}
	out := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		out = append(out, e.String())
	}
	return false, out
}

// LoadSchema compiles the embedded schema for kind.
func LoadSchema(kind Kind) (*Schema, error) {
	doc, err := schemaFiles.ReadFile(fmt.Sprintf("schemas/%s.json", kind))
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "signals: no schema for %s", kind)
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration, "signals: schema for %s does not compile", kind)
	}
	return &Schema{kind: kind, schema: compiled}, nil
}

func summarize(violations []string) string {
	const limit = 3
	if len(violations) > limit {
		violations = append(violations[:limit:limit], fmt.Sprintf("and %d more", len(violations)-limit))
	}
	return strings.Join(violations, "; ")
}
