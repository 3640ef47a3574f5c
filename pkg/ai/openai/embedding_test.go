package openai

import (
	"context"
	"reflect"
	"testing"
)

func TestFitDimensions(t *testing.T) {
	got := fitDimensions([]float64{1, 2, 3}, 5)
	if !reflect.DeepEqual(got, []float32{1, 2, 3, 0, 0}) {
		t.Fatalf("expected zero padding, got %v", got)
	}
	got = fitDimensions([]float64{1, 2, 3}, 2)
	if !reflect.DeepEqual(got, []float32{1, 2}) {
		t.Fatalf("expected truncation, got %v", got)
	}
}

func TestGenerateEmbeddings_BlankInputsSkipRequest(t *testing.T) {
	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{EmbeddingDim: 4})
	out, err := c.GenerateEmbeddings(context.Background(), [][]byte{nil, []byte("   ")})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(out) != 2 || len(out[0]) != 4 || len(out[1]) != 4 {
		t.Fatalf("expected two zero vectors of width 4, got %v", out)
	}
}

func TestGenerateCompletion_NoClient(t *testing.T) {
	c := NewGraphOpenAIClient(NewGraphOpenAIClientParams{})
	if _, err := c.GenerateCompletion(context.Background(), "hi"); err == nil {
		t.Fatal("expected error without a configured chat client")
	}
}
