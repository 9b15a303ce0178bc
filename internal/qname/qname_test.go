package qname

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacoelho/xproc/internal/xmlnames"
)

func TestParseWithPrefix(t *testing.T) {
	got, err := Parse("ex:item", MapResolver(map[string]string{"ex": "urn:test"}))
	require.NoError(t, err)
	assert.Equal(t, QName{Prefix: "ex", Namespace: "urn:test", Local: "item"}, got)
	assert.Equal(t, "ex:item", got.String())
	assert.Equal(t, "{urn:test}item", got.Clark())
}

func TestParseUnprefixedHasNoNamespace(t *testing.T) {
	got, err := Parse("my-option", MapResolver(nil))
	require.NoError(t, err)
	assert.Equal(t, Local("my-option"), got)
	assert.Equal(t, "my-option", got.Clark())
}

func TestParseClark(t *testing.T) {
	got, err := Parse("{http://www.w3.org/ns/xproc}identity", MapResolver(nil))
	require.NoError(t, err)
	assert.Equal(t, xmlnames.XProcNamespace, got.Namespace)
	assert.Equal(t, "identity", got.Local)
	assert.Empty(t, got.Prefix)

	_, err = Parse("{urn:broken", MapResolver(nil))
	assert.Error(t, err)
}

func TestParseDefaultsPPrefix(t *testing.T) {
	got, err := Parse("p:identity", MapResolver(nil))
	require.NoError(t, err)
	assert.Equal(t, xmlnames.XProcNamespace, got.Namespace)

	got, err = Parse("p:identity", MapResolver(map[string]string{"p": "urn:other"}))
	require.NoError(t, err)
	assert.Equal(t, "urn:other", got.Namespace)
}

func TestParseUnboundPrefix(t *testing.T) {
	_, err := Parse("ex:item", MapResolver(map[string]string{}))
	var unbound *UnboundPrefixError
	require.ErrorAs(t, err, &unbound)
	assert.Equal(t, "ex", unbound.Prefix)
}

func TestParseXMLPrefixWrongBinding(t *testing.T) {
	_, err := Parse("xml:lang", MapResolver(map[string]string{"xml": "urn:wrong"}))
	assert.Error(t, err)
}

func TestParseInvalid(t *testing.T) {
	for _, name := range []string{"", "  ", "1abc", "a:b:c", ":a", "a:"} {
		_, err := Parse(name, MapResolver(nil))
		assert.Error(t, err, "Parse(%q)", name)
	}
}

func TestEqualIgnoresPrefix(t *testing.T) {
	a := New("a", "urn:x", "n")
	b := New("b", "urn:x", "n")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(New("a", "urn:y", "n")))
}
