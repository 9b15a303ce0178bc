package xmldoc

import (
	"encoding/xml"
	"fmt"
	"io"
	"unicode"

	"github.com/jacoelho/xproc/internal/qname"
	"github.com/jacoelho/xproc/internal/xmlnames"
)

// Parse builds a namespace-preserving document from XML input.
func Parse(r io.Reader, baseURI string) (*Document, error) {
	decoder := xml.NewDecoder(r)

	doc := &Document{BaseURI: baseURI}
	var stack []*Element
	rootClosed := false

	for {
		tok, err := decoder.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if rootClosed {
				return nil, fmt.Errorf("unexpected element %s after document end", t.Name.Local)
			}
			var parent *Element
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			elem, err := newParsedElement(t, parent)
			if err != nil {
				return nil, err
			}
			if parent != nil {
				parent.Append(elem)
			} else {
				doc.Root = elem
			}
			stack = append(stack, elem)

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unexpected end element %s", t.Name.Local)
			}
			top := stack[len(stack)-1]
			if top.Name.Prefix != t.Name.Space || top.Name.Local != t.Name.Local {
				return nil, fmt.Errorf("element %s closed by %s", top.Name, rawName(t.Name))
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				rootClosed = true
			}

		case xml.CharData:
			if len(stack) == 0 {
				if !isIgnorableOutsideRoot(string(t)) {
					return nil, fmt.Errorf("unexpected character data outside root element")
				}
				continue
			}
			appendText(stack[len(stack)-1], string(t))

		case xml.Comment:
			if len(stack) == 0 {
				if !rootClosed {
					doc.Prolog = append(doc.Prolog, Comment(string(t)))
				}
				continue
			}
			stack[len(stack)-1].Append(Comment(string(t)))

		case xml.ProcInst:
			if t.Target == "xml" {
				continue
			}
			pi := ProcInst{Target: t.Target, Data: string(t.Inst)}
			if len(stack) == 0 {
				if !rootClosed {
					doc.Prolog = append(doc.Prolog, pi)
				}
				continue
			}
			stack[len(stack)-1].Append(pi)
		}
	}

	if len(stack) > 0 {
		return nil, io.ErrUnexpectedEOF
	}
	if doc.Root == nil {
		return nil, io.ErrUnexpectedEOF
	}
	return doc, nil
}

func newParsedElement(t xml.StartElement, parent *Element) (*Element, error) {
	elem := &Element{parent: parent}
	for _, a := range t.Attr {
		switch {
		case a.Name.Space == xmlnames.XMLNSPrefix:
			elem.Namespaces = append(elem.Namespaces, Namespace{Prefix: a.Name.Local, URI: a.Value})
		case a.Name.Space == "" && a.Name.Local == xmlnames.XMLNSPrefix:
			elem.Namespaces = append(elem.Namespaces, Namespace{URI: a.Value})
		}
	}

	ns, err := elem.resolvePrefix(t.Name.Space, true)
	if err != nil {
		return nil, err
	}
	elem.Name = qname.New(t.Name.Space, ns, t.Name.Local)

	for _, a := range t.Attr {
		if a.Name.Space == xmlnames.XMLNSPrefix || (a.Name.Space == "" && a.Name.Local == xmlnames.XMLNSPrefix) {
			continue
		}
		ns := ""
		if a.Name.Space != "" {
			ns, err = elem.resolvePrefix(a.Name.Space, false)
			if err != nil {
				return nil, err
			}
		}
		elem.Attrs = append(elem.Attrs, Attr{Name: qname.New(a.Name.Space, ns, a.Name.Local), Value: a.Value})
	}
	return elem, nil
}

func (e *Element) resolvePrefix(prefix string, useDefault bool) (string, error) {
	if prefix == xmlnames.XMLPrefix {
		return xmlnames.XMLNamespace, nil
	}
	if prefix == "" && !useDefault {
		return "", nil
	}
	ns, ok := e.LookupNamespace(prefix)
	if !ok {
		if prefix == "" {
			return "", nil
		}
		return "", &qname.UnboundPrefixError{Prefix: prefix, Name: prefix}
	}
	return ns, nil
}

func appendText(e *Element, data string) {
	if n := len(e.Children); n > 0 {
		if prev, ok := e.Children[n-1].(Text); ok {
			e.Children[n-1] = prev + Text(data)
			return
		}
	}
	e.Children = append(e.Children, Text(data))
}

func rawName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func isIgnorableOutsideRoot(data string) bool {
	for _, r := range data {
		if r == '\uFEFF' {
			continue
		}
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
