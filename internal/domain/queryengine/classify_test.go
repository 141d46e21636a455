package queryengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalyzeClassifiesHowTo(t *testing.T) {
	a := Analyze("How to configure the retriever?")
	require.Equal(t, QueryHowTo, a.Type)
}

func TestAnalyzeExtractsKeywordsWithoutStopwords(t *testing.T) {
	a := Analyze("What is the capital of France?")
	require.NotContains(t, a.Keywords, "the")
	require.NotContains(t, a.Keywords, "is")
	require.Contains(t, a.Keywords, "capital")
}

func TestAnalyzeExtractsMultiWordEntity(t *testing.T) {
	a := Analyze("Who wrote Atomic Habits?")
	require.Contains(t, a.Entities, "Atomic Habits")
}

func TestAnalyzeComplexityBuckets(t *testing.T) {
	simple := Analyze("What is Go?")
	require.Equal(t, ComplexitySimple, simple.Complexity)

	complex := Analyze("Compare and contrast the architectural tradeoffs between microservices and monoliths across deployment, scaling, and operational complexity dimensions")
	require.Equal(t, ComplexityComplex, complex.Complexity)
}
