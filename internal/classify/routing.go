// Package classify routes raw evidence to the shape extractors that can
// handle it. The LLM decides the content type; the type→extractor mapping
// is a pure function so routing is unit-testable without any model.
package classify

// ContentType is the classifier's verdict on a piece of evidence.
type ContentType string

const (
	TypeLogic        ContentType = "LOGIC"        // atomic rule statements
	TypeProcess      ContentType = "PROCESS"      // numbered procedures
	TypeReference    ContentType = "REFERENCE"    // lookup tables (IBANs, codes, offices)
	TypeDocument     ContentType = "DOCUMENT"     // downloadable forms/templates
	TypeTransitional ContentType = "TRANSITIONAL" // date-based rule switches
	TypeMixed        ContentType = "MIXED"
	TypeUnknown      ContentType = "UNKNOWN"
)

// Extractor names as routed. These match the extractor registry keys.
const (
	ExtractorClaim        = "claim-extractor"
	ExtractorProcess      = "process-extractor"
	ExtractorReference    = "reference-extractor"
	ExtractorAsset        = "asset-extractor"
	ExtractorTransitional = "transitional-extractor"
)

// ExtractorsFor maps a content type to the extractors to run. UNKNOWN
// falls back to the claim extractor: extracting nothing from page text we
// could not type is worse than an occasional empty claim pass.
func ExtractorsFor(t ContentType) []string {
	switch t {
	case TypeLogic:
		return []string{ExtractorClaim}
	case TypeProcess:
		return []string{ExtractorProcess}
	case TypeReference:
		return []string{ExtractorReference}
	case TypeDocument:
		return []string{ExtractorAsset}
	case TypeTransitional:
		return []string{ExtractorTransitional}
	case TypeMixed:
		return []string{ExtractorClaim, ExtractorProcess, ExtractorReference, ExtractorAsset}
	default:
		return []string{ExtractorClaim}
	}
}

// ValidType reports whether t is a known content type.
func ValidType(t ContentType) bool {
	switch t {
	case TypeLogic, TypeProcess, TypeReference, TypeDocument, TypeTransitional, TypeMixed, TypeUnknown:
		return true
	}
	return false
}
