package qname

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/jacoelho/xproc/internal/xmlnames"
)

// QName is a qualified name with the prefix it was written with.
// Equality ignores the prefix.
type QName struct {
	Prefix    string
	Namespace string
	Local     string
}

// New builds a QName.
func New(prefix, namespace, local string) QName {
	return QName{Prefix: prefix, Namespace: namespace, Local: local}
}

// Local builds an unqualified QName.
func Local(local string) QName {
	return QName{Local: local}
}

// String returns the lexical prefix:local form, or local when unprefixed.
func (q QName) String() string {
	if q.Prefix == "" {
		return q.Local
	}
	return q.Prefix + ":" + q.Local
}

// Clark returns the {namespace}local form, or local when there is no namespace.
func (q QName) Clark() string {
	if q.Namespace == "" {
		return q.Local
	}
	return "{" + q.Namespace + "}" + q.Local
}

// IsZero reports whether q is the zero value.
func (q QName) IsZero() bool {
	return q.Namespace == "" && q.Local == ""
}

// Equal compares namespace and local name.
func (q QName) Equal(other QName) bool {
	return q.Namespace == other.Namespace && q.Local == other.Local
}

// UnboundPrefixError reports a prefix with no namespace binding.
type UnboundPrefixError struct {
	Prefix string
	Name   string
}

func (e *UnboundPrefixError) Error() string {
	return fmt.Sprintf("unbound prefix %q in %q", e.Prefix, e.Name)
}

// Resolver looks up a namespace for a prefix.
type Resolver func(prefix string) (string, bool)

// MapResolver resolves prefixes from bindings, falling back to the
// conventional p prefix for the pipeline description namespace.
func MapResolver(bindings map[string]string) Resolver {
	return func(prefix string) (string, bool) {
		if ns, ok := bindings[prefix]; ok {
			return ns, true
		}
		switch prefix {
		case xmlnames.XProcPrefix:
			return xmlnames.XProcNamespace, true
		case xmlnames.XMLPrefix:
			return xmlnames.XMLNamespace, true
		}
		return "", false
	}
}

// Parse resolves a Clark, prefix:local or unprefixed name.
// Unprefixed names are in no namespace.
func Parse(lexical string, resolve Resolver) (QName, error) {
	name := strings.TrimSpace(lexical)
	if name == "" {
		return QName{}, fmt.Errorf("invalid QName: empty string")
	}
	if strings.HasPrefix(name, "{") {
		return parseClark(name)
	}

	prefix, local, hasPrefix := strings.Cut(name, ":")
	if !hasPrefix {
		if !IsNCName(name) {
			return QName{}, fmt.Errorf("invalid QName %q", name)
		}
		return QName{Local: name}, nil
	}
	if !IsNCName(prefix) || !IsNCName(local) {
		return QName{}, fmt.Errorf("invalid QName %q", name)
	}
	ns, ok := resolve(prefix)
	if prefix == xmlnames.XMLPrefix {
		if err := xmlnames.ValidateXMLPrefixBinding(ns, ok); err != nil {
			return QName{}, err
		}
	}
	if !ok {
		return QName{}, &UnboundPrefixError{Prefix: prefix, Name: name}
	}
	return QName{Prefix: prefix, Namespace: ns, Local: local}, nil
}

func parseClark(name string) (QName, error) {
	end := strings.IndexByte(name, '}')
	if end < 0 {
		return QName{}, fmt.Errorf("invalid Clark name %q", name)
	}
	ns := name[1:end]
	local := name[end+1:]
	if !IsNCName(local) {
		return QName{}, fmt.Errorf("invalid Clark name %q", name)
	}
	return QName{Namespace: ns, Local: local}, nil
}

// IsNCName reports whether s is a non-colonized XML name.
func IsNCName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
		case i > 0 && (r == '-' || r == '.' || unicode.IsDigit(r) || r == '·'):
		case i > 0 && (unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)):
		default:
			return false
		}
	}
	return true
}
