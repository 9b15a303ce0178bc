package xmldoc

import (
	"fmt"

	"github.com/jacoelho/xproc/internal/qname"
)

// Builder assembles a document element by element.
type Builder struct {
	doc   *Document
	stack []*Element
	err   error
}

// NewBuilder starts a document with the given base URI.
func NewBuilder(baseURI string) *Builder {
	return &Builder{doc: &Document{BaseURI: baseURI}}
}

// Start opens an element as a child of the current one.
func (b *Builder) Start(name qname.QName) *Builder {
	if b.err != nil {
		return b
	}
	elem := NewElement(name)
	if len(b.stack) == 0 {
		if b.doc.Root != nil {
			b.err = fmt.Errorf("second root element %s", name)
			return b
		}
		b.doc.Root = elem
	} else {
		b.stack[len(b.stack)-1].Append(elem)
	}
	b.stack = append(b.stack, elem)
	return b
}

// Attr sets an attribute on the open element.
func (b *Builder) Attr(name qname.QName, value string) *Builder {
	if top := b.top("attribute " + name.String()); top != nil {
		top.SetAttr(name, value)
	}
	return b
}

// Namespace declares a prefix on the open element.
func (b *Builder) Namespace(prefix, uri string) *Builder {
	if top := b.top("namespace " + prefix); top != nil {
		for _, ns := range top.Namespaces {
			if ns.Prefix == prefix {
				return b
			}
		}
		top.Namespaces = append(top.Namespaces, Namespace{Prefix: prefix, URI: uri})
	}
	return b
}

// Text appends character data to the open element.
func (b *Builder) Text(data string) *Builder {
	if top := b.top("text"); top != nil {
		appendText(top, data)
	}
	return b
}

// End closes the open element.
func (b *Builder) End() *Builder {
	if b.top("end element") != nil {
		b.stack = b.stack[:len(b.stack)-1]
	}
	return b
}

// Document returns the built document once every element is closed.
func (b *Builder) Document() (*Document, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.stack) > 0 {
		return nil, fmt.Errorf("unclosed element %s", b.stack[len(b.stack)-1].Name)
	}
	if b.doc.Root == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	return b.doc, nil
}

func (b *Builder) top(what string) *Element {
	if b.err != nil {
		return nil
	}
	if len(b.stack) == 0 {
		b.err = fmt.Errorf("%s outside of an element", what)
		return nil
	}
	return b.stack[len(b.stack)-1]
}
