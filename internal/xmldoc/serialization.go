package xmldoc

// Serialization controls how a document is turned into bytes.
//
// MediaType, IncludeContentType and EscapeURIAttrs apply to the html and
// xhtml methods. UndeclarePrefixes has no effect: the DOM records no prefix
// undeclarations, so a child always inherits its parent's bindings.
type Serialization struct {
	Method             string
	DoctypePublic      string
	DoctypeSystem      string
	Encoding           string
	MediaType          string
	NormalizationForm  string
	Standalone         string
	Version            string
	ByteOrderMark      bool
	EscapeURIAttrs     bool
	IncludeContentType bool
	Indent             bool
	OmitXMLDeclaration bool
	UndeclarePrefixes  bool
}

// SerializationFromOptions builds a Serialization from option names.
// Boolean options are true only for the literal "true"; unknown names are ignored.
func SerializationFromOptions(opts map[string]string) Serialization {
	var s Serialization
	for name, value := range opts {
		switch name {
		case "byte-order-mark":
			s.ByteOrderMark = value == "true"
		case "escape-uri-attributes":
			s.EscapeURIAttrs = value == "true"
		case "include-content-type":
			s.IncludeContentType = value == "true"
		case "indent":
			s.Indent = value == "true"
		case "omit-xml-declaration":
			s.OmitXMLDeclaration = value == "true"
		case "undeclare-prefixes":
			s.UndeclarePrefixes = value == "true"
		case "method":
			s.Method = value
		case "doctype-public":
			s.DoctypePublic = value
		case "doctype-system":
			s.DoctypeSystem = value
		case "encoding":
			s.Encoding = value
		case "media-type":
			s.MediaType = value
		case "normalization-form":
			s.NormalizationForm = value
		case "standalone":
			s.Standalone = value
		case "version":
			s.Version = value
		}
	}
	return s
}
