package xmldoc

import (
	"strings"

	"github.com/jacoelho/xproc/internal/qname"
)

// Node is a child of an element: *Element, Text, Comment or ProcInst.
type Node interface {
	isNode()
}

// Text is character data.
type Text string

// Comment is an XML comment.
type Comment string

// ProcInst is a processing instruction.
type ProcInst struct {
	Target string
	Data   string
}

func (Text) isNode()     {}
func (Comment) isNode()  {}
func (ProcInst) isNode() {}

// Attr is an attribute with a resolved name.
type Attr struct {
	Name  qname.QName
	Value string
}

// Namespace is a prefix declaration carried by an element.
type Namespace struct {
	Prefix string
	URI    string
}

// Element is a namespace-aware element that keeps the prefixes it was written with.
type Element struct {
	parent     *Element
	Name       qname.QName
	Attrs      []Attr
	Namespaces []Namespace
	Children   []Node
}

func (*Element) isNode() {}

// Document is a parsed or built XML document.
type Document struct {
	Root    *Element
	BaseURI string
	// Prolog holds comments and processing instructions before the root.
	Prolog []Node
}

// NewElement builds a detached element.
func NewElement(name qname.QName) *Element {
	return &Element{Name: name}
}

// Append adds children, adopting elements.
func (e *Element) Append(children ...Node) {
	for _, child := range children {
		if el, ok := child.(*Element); ok {
			el.parent = e
		}
		e.Children = append(e.Children, child)
	}
}

// SetAttr sets or replaces an attribute.
func (e *Element) SetAttr(name qname.QName, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Name.Equal(name) {
			e.Attrs[i] = Attr{Name: name, Value: value}
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
}

// Attr returns the value of the attribute named by namespace and local name.
func (e *Element) Attr(namespace, local string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Namespace == namespace && a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// Elements returns the child elements in document order.
func (e *Element) Elements() []*Element {
	var out []*Element
	for _, child := range e.Children {
		if el, ok := child.(*Element); ok {
			out = append(out, el)
		}
	}
	return out
}

// ElementsNamed returns child elements with the given namespace and local name.
func (e *Element) ElementsNamed(namespace, local string) []*Element {
	var out []*Element
	for _, el := range e.Elements() {
		if el.Name.Namespace == namespace && el.Name.Local == local {
			out = append(out, el)
		}
	}
	return out
}

// TextContent returns the concatenated text of the element subtree.
func (e *Element) TextContent() string {
	var sb strings.Builder
	e.collectText(&sb)
	return sb.String()
}

func (e *Element) collectText(sb *strings.Builder) {
	for _, child := range e.Children {
		switch c := child.(type) {
		case Text:
			sb.WriteString(string(c))
		case *Element:
			c.collectText(sb)
		}
	}
}

// LookupNamespace resolves a prefix against declarations in scope at e.
func (e *Element) LookupNamespace(prefix string) (string, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		for _, ns := range cur.Namespaces {
			if ns.Prefix == prefix {
				return ns.URI, true
			}
		}
	}
	return "", false
}
