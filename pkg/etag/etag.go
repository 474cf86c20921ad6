package etag

import (
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

var (
	ErrorMalformed = fmt.Errorf("Malformed entity tag")
)

// ETag is an entity tag as used in the ETag, If-Match and If-None-Match fields.
// The zero value represents an absent tag.
type ETag struct {
	// Opaque is the tag value without the surrounding quotes.
	Opaque string
	// Weak marks the tag as a weak validator (W/ prefix).
	Weak bool
}

// Strong returns a strong entity tag with the given opaque value.
func Strong(opaque string) ETag {
	return ETag{Opaque: opaque}
}

// Weak returns a weak entity tag with the given opaque value.
func Weak(opaque string) ETag {
	return ETag{Opaque: opaque, Weak: true}
}

// IsZero reports whether the tag is absent.
func (e ETag) IsZero() bool {
	return e == ETag{}
}

// String returns the field value representation, e.g. `W/"xyzzy"`.
// An absent tag is the empty string.
func (e ETag) String() string {
	if e.IsZero() {
		return ""
	}
	if e.Weak {
		return `W/"` + e.Opaque + `"`
	}
	return `"` + e.Opaque + `"`
}

// AsWeak returns a weak tag with the same opaque value.
func (e ETag) AsWeak() ETag {
	if e.IsZero() {
		return e
	}
	return Weak(e.Opaque)
}

// Parse parses a single entity tag.
// Surrounding whitespace is ignored.
func Parse(s string) (ETag, error) {
	tag, rest, err := scan(strings.TrimSpace(s))
	if err != nil {
		return ETag{}, err
	}
	if rest != "" {
		return ETag{}, fmt.Errorf("%w: trailing data %q", ErrorMalformed, rest)
	}
	return tag, nil
}

// ParseList parses the values of an If-Match or If-None-Match field.
// If the field is "*", any is true and tags is empty.
// Empty list elements are skipped, as allowed for #rule lists.
func ParseList(values []string) (tags []ETag, any bool, err error) {
	for _, value := range values {
		s := strings.TrimSpace(value)
		if s == "*" {
			return nil, true, nil
		}
		for s != "" {
			if s[0] == ',' {
				s = strings.TrimLeft(s[1:], " \t")
				continue
			}
			tag, rest, err := scan(s)
			if err != nil {
				return nil, false, err
			}
			tags = append(tags, tag)
			rest = strings.TrimLeft(rest, " \t")
			if rest != "" && rest[0] != ',' {
				return nil, false, fmt.Errorf("%w: expected comma before %q", ErrorMalformed, rest)
			}
			s = rest
		}
	}
	return tags, false, nil
}

// scan reads one entity tag from the start of s and returns the remainder.
func scan(s string) (ETag, string, error) {
	var tag ETag
	if strings.HasPrefix(s, "W/") {
		tag.Weak = true
		s = s[2:]
	}
	if len(s) < 2 || s[0] != '"' {
		return ETag{}, "", fmt.Errorf("%w: missing opening quote", ErrorMalformed)
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			tag.Opaque = s[1:i]
			return tag, s[i+1:], nil
		case c == 0x21 || (c >= 0x23 && c <= 0x7e) || c >= 0x80:
		default:
			return ETag{}, "", fmt.Errorf("%w: invalid character %q", ErrorMalformed, c)
		}
	}
	return ETag{}, "", fmt.Errorf("%w: missing closing quote", ErrorMalformed)
}

// StrongCompare reports whether both tags are strong and their opaque values match.
func StrongCompare(a, b ETag) bool {
	return !a.Weak && !b.Weak && a.Opaque == b.Opaque
}

// WeakCompare reports whether the opaque values match, regardless of weakness.
func WeakCompare(a, b ETag) bool {
	return a.Opaque == b.Opaque
}

// FromBytes returns a tag holding the SHA-256 digest of b.
func FromBytes(b []byte, weak bool) ETag {
	return ETag{
		Opaque: digest.FromBytes(b).Encoded(),
		Weak:   weak,
	}
}
