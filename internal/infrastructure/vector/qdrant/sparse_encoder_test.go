package qdrant

import "testing"

func TestEncodeSparseTermsDeterministic(t *testing.T) {
	terms := []string{"risk", "level", "for", "doc", "0001"}
	v1 := encodeSparseTerms(terms)
	v2 := encodeSparseTerms(terms)
	if len(v1.Indices) != len(v2.Indices) || len(v1.Values) != len(v2.Values) {
		t.Fatalf("vector sizes mismatch: v1=%d/%d v2=%d/%d", len(v1.Indices), len(v1.Values), len(v2.Indices), len(v2.Values))
	}
	for i := range v1.Indices {
		if v1.Indices[i] != v2.Indices[i] {
			t.Fatalf("indices mismatch at %d: %d vs %d", i, v1.Indices[i], v2.Indices[i])
		}
		if v1.Values[i] != v2.Values[i] {
			t.Fatalf("values mismatch at %d: %f vs %f", i, v1.Values[i], v2.Values[i])
		}
	}
}

func TestEncodeSparseTermsSortsIndices(t *testing.T) {
	v := encodeSparseTerms([]string{"zulu", "alpha", "beta", "gamma"})
	if len(v.Indices) == 0 {
		t.Fatalf("expected non-empty sparse vector")
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i-1] > v.Indices[i] {
			t.Fatalf("indices not sorted at %d: %d > %d", i, v.Indices[i-1], v.Indices[i])
		}
	}
}

func TestEncodeSparseTermsEmptyInput(t *testing.T) {
	if v := encodeSparseTerms(nil); len(v.Indices) != 0 || len(v.Values) != 0 {
		t.Fatalf("expected empty sparse vector, got %+v", v)
	}
	if v := encodeSparseTerms([]string{"", ""}); len(v.Indices) != 0 {
		t.Fatalf("blank terms should encode to nothing, got %+v", v)
	}
}

func TestEncodeSparseTermsSaturatesRepeats(t *testing.T) {
	once := encodeSparseTerms([]string{"billing"})
	many := encodeSparseTerms([]string{"billing", "billing", "billing", "billing"})
	if len(once.Values) != 1 || len(many.Values) != 1 {
		t.Fatalf("unexpected vector sizes: %d, %d", len(once.Values), len(many.Values))
	}
	if many.Values[0] <= once.Values[0] {
		t.Fatalf("repeated term should weigh more: %f vs %f", many.Values[0], once.Values[0])
	}
	// BM25 saturation caps the weight at k+1.
	if many.Values[0] >= queryBM25K+1 {
		t.Fatalf("weight %f not saturated below %f", many.Values[0], queryBM25K+1)
	}
}
