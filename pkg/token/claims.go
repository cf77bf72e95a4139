package token

// Claims is a verified claim set. It is read-only by convention.
type Claims map[string]any

// String returns the named claim when it is a string.
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Subject returns sub.
func (c Claims) Subject() string { return c.String("sub") }

// Issuer returns iss.
func (c Claims) Issuer() string { return c.String("iss") }

// ID returns jti.
func (c Claims) ID() string { return c.String("jti") }

// Audience returns aud as a list whether it was encoded as a string or an
// array. Non-string array members are skipped.
func (c Claims) Audience() []string {
	switch aud := c["aud"].(type) {
	case string:
		return []string{aud}
	case []string:
		return aud
	case []any:
		out := make([]string, 0, len(aud))
		for _, a := range aud {
			if s, ok := a.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// AudienceIsArray reports whether aud was encoded as a JSON array.
func (c Claims) AudienceIsArray() bool {
	switch c["aud"].(type) {
	case []any, []string:
		return true
	default:
		return false
	}
}

// Object returns the named claim when it is a JSON object.
func (c Claims) Object(name string) map[string]any {
	m, _ := c[name].(map[string]any)
	return m
}
