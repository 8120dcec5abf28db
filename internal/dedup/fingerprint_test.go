package dedup

import (
	"reflect"
	"testing"
)

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint("https://example.org/tenders/1", "Supported housing services")
	b := Fingerprint("HTTPS://EXAMPLE.ORG/TENDERS/1  ", "supported   housing\nservices")
	if a != b {
		t.Errorf("case and whitespace variants must fingerprint identically: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("expected 32-char fingerprint, got %d", len(a))
	}
}

func TestFingerprintDistinguishesURL(t *testing.T) {
	a := Fingerprint("https://example.org/tenders/1", "Supported housing services")
	b := Fingerprint("https://example.org/tenders/2", "Supported housing services")
	if a == b {
		t.Error("same text on different pages must fingerprint differently")
	}
}

func TestSignatureOf(t *testing.T) {
	tests := []struct {
		name  string
		title string
		buyer string
		words []string
	}{
		{
			name:  "drops stopwords and single letters",
			title: "Provision of a Framework for Housing",
			buyer: "",
			words: []string{"framework", "housing", "provision"},
		},
		{
			name:  "buyer words are part of the signature",
			title: "Care services",
			buyer: "Hackney Council",
			words: []string{"care", "council", "hackney", "services"},
		},
		{
			name:  "empty input",
			title: "",
			buyer: "",
			words: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SignatureOf(tt.title, tt.buyer).Words()
			if !reflect.DeepEqual(got, tt.words) {
				t.Errorf("expected %v, got %v", tt.words, got)
			}
		})
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b Signature
		want float64
	}{
		{
			name: "identical sets",
			a:    SignatureOf("Supported housing Hackney", ""),
			b:    SignatureOf("Supported housing Hackney", ""),
			want: 1,
		},
		{
			name: "disjoint sets",
			a:    SignatureOf("Supported housing", ""),
			b:    SignatureOf("Road maintenance", ""),
			want: 0,
		},
		{
			name: "both empty",
			a:    Signature{},
			b:    Signature{},
			want: 1,
		},
		{
			name: "partial overlap",
			a:    Signature{"supported": true, "housing": true, "hackney": true, "services": true},
			b:    Signature{"supported": true, "housing": true, "hackney": true},
			want: 0.75,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Jaccard(tt.a, tt.b); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestIsDuplicateAcrossRephrasings(t *testing.T) {
	a := SignatureOf("Supported housing management services for young people Hackney", "Hackney Council")
	b := SignatureOf("Supported housing management services for young people Hackney Borough", "Hackney Council")
	if !IsDuplicate(a, b) {
		t.Errorf("one extra word should stay above threshold, overlap %v", Jaccard(a, b))
	}

	c := SignatureOf("Highways resurfacing programme", "Kent County Council")
	if IsDuplicate(a, c) {
		t.Error("unrelated tenders must not be marked duplicates")
	}
}
