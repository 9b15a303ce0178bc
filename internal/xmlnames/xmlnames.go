package xmlnames

import "fmt"

const (
	// XMLPrefix is the reserved prefix for the XML namespace.
	XMLPrefix = "xml"
	// XMLNSPrefix is the reserved prefix for namespace declarations.
	XMLNSPrefix = "xmlns"
	// XMLNamespace is the XML namespace URI.
	XMLNamespace = "http://www.w3.org/XML/1998/namespace"
	// XMLNSNamespace is the XMLNS namespace URI.
	XMLNSNamespace = "http://www.w3.org/2000/xmlns/"

	// XProcPrefix is the conventional prefix of the pipeline description language.
	XProcPrefix = "p"
	// XProcNamespace is the namespace of pipeline description elements.
	XProcNamespace = "http://www.w3.org/ns/xproc"
	// StepPrefix is the conventional prefix of step vocabulary documents.
	StepPrefix = "c"
	// StepNamespace is the namespace of step vocabulary documents such as c:data.
	StepNamespace = "http://www.w3.org/ns/xproc-step"
)

// ValidateXMLPrefixBinding verifies that an explicit xml prefix binding is correct.
func ValidateXMLPrefixBinding(binding string, ok bool) error {
	if !ok {
		return nil
	}
	if binding != XMLNamespace {
		return fmt.Errorf("prefix %s must be bound to %s", XMLPrefix, XMLNamespace)
	}
	return nil
}
