package classify

import (
	"reflect"
	"strings"
	"testing"
)

func TestExtractorsForSingleTypes(t *testing.T) {
	cases := map[ContentType][]string{
		TypeLogic:        {ExtractorClaim},
		TypeProcess:      {ExtractorProcess},
		TypeReference:    {ExtractorReference},
		TypeDocument:     {ExtractorAsset},
		TypeTransitional: {ExtractorTransitional},
	}
	for contentType, want := range cases {
		if got := ExtractorsFor(contentType); !reflect.DeepEqual(got, want) {
			t.Errorf("ExtractorsFor(%s) = %v, want %v", contentType, got, want)
		}
	}
}

func TestExtractorsForMixedRunsFour(t *testing.T) {
	got := ExtractorsFor(TypeMixed)
	want := []string{ExtractorClaim, ExtractorProcess, ExtractorReference, ExtractorAsset}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractorsFor(MIXED) = %v, want %v", got, want)
	}
}

func TestExtractorsForUnknownDefaultsToClaim(t *testing.T) {
	for _, contentType := range []ContentType{TypeUnknown, ContentType("garbage")} {
		got := ExtractorsFor(contentType)
		if !reflect.DeepEqual(got, []string{ExtractorClaim}) {
			t.Errorf("ExtractorsFor(%q) = %v, want claim fallback", contentType, got)
		}
	}
}

func TestValidType(t *testing.T) {
	if !ValidType(TypeLogic) || !ValidType(TypeUnknown) {
		t.Error("known types must validate")
	}
	if ValidType(ContentType("LOGIK")) {
		t.Error("unknown type must not validate")
	}
}

func TestHintsFindKeywords(t *testing.T) {
	text := "Der Antrag ist bis zum Stichtag einzureichen. The threshold is EUR 22,000. IBAN DE89..."
	hints := Hints(text)
	if len(hints) == 0 {
		t.Fatal("expected hints for mixed regulatory text")
	}

	found := map[string]bool{}
	for _, h := range hints {
		hintType, _, _ := strings.Cut(h, ":")
		found[hintType] = true
	}
	for _, wantType := range []string{"LOGIC", "REFERENCE", "TRANSITIONAL"} {
		if !found[wantType] {
			t.Errorf("expected a %s hint in %v", wantType, hints)
		}
	}
}
