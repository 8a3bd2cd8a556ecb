package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1.0},
		{"mismatched length", []float32{1}, []float32{1, 2}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(float64(got-tc.expected)) > 0.0001 {
				t.Errorf("got %f, want %f", got, tc.expected)
			}
		})
	}
}

func TestTopK(t *testing.T) {
	query := []float32{1, 0, 0}
	vectors := [][]float32{
		{0, 1, 0},     // orthogonal
		{1, 0, 0},     // identical
		{-1, 0, 0},    // opposite
		{0.7, 0.7, 0}, // ~0.707
	}

	top := TopK(query, vectors, 2)
	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if top[0].Index != 1 || top[1].Index != 3 {
		t.Errorf("order = %+v, want indices 1 then 3", top)
	}
	if math.Abs(float64(top[0].Score-1)) > 0.0001 {
		t.Errorf("top score = %f, want 1", top[0].Score)
	}

	if got := TopK(query, vectors, 10); len(got) != 4 {
		t.Errorf("k beyond len returned %d, want 4", len(got))
	}
	if got := TopK(query, vectors, 0); got != nil {
		t.Errorf("k=0 returned %v, want nil", got)
	}
}

func TestTopK_TiesKeepInputOrder(t *testing.T) {
	query := []float32{1, 0}
	vectors := [][]float32{{2, 0}, {1, 0}, {3, 0}}

	top := TopK(query, vectors, 3)
	for i, m := range top {
		if m.Index != i {
			t.Errorf("top[%d].Index = %d, want %d", i, m.Index, i)
		}
	}
}

func TestClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{float32(len(req.Prompt)), 1}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	vec, err := c.Generate(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(vec) != 2 || vec[0] != 3 {
		t.Errorf("vec = %v", vec)
	}
}

func TestClient_GenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}},
		{"empty embedding", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"embedding":[]}`))
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			if _, err := New(Config{BaseURL: srv.URL}).Generate(context.Background(), "x"); err == nil {
				t.Error("expected error")
			}
		})
	}
}
