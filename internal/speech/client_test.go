package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     Verdict
		wantErr  bool
	}{
		{
			name:     "relevant with reason",
			response: "Relevant. The question asks about sorting algorithms covered in the lecture.",
			want:     Verdict{IsRelevant: true, Reason: "The question asks about sorting algorithms covered in the lecture."},
		},
		{
			name:     "irrelevant with reason",
			response: "Irrelevant: lunch plans have nothing to do with the topic.",
			want:     Verdict{IsRelevant: false, Reason: "lunch plans have nothing to do with the topic."},
		},
		{
			name:     "lowercase verdict",
			response: "relevant because it concerns the assigned reading",
			want:     Verdict{IsRelevant: true, Reason: "because it concerns the assigned reading"},
		},
		{
			name:     "verdict only",
			response: "Irrelevant",
			want:     Verdict{IsRelevant: false},
		},
		{
			name:     "leading whitespace",
			response: "  Relevant, it references the class material.",
			want:     Verdict{IsRelevant: true, Reason: "it references the class material."},
		},
		{
			name:     "hedged answer is a parse failure",
			response: "It could be relevant depending on context.",
			wantErr:  true,
		},
		{
			name:     "empty response",
			response: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.response)
			if tt.wantErr {
				if !errors.Is(err, ErrUnparsableVerdict) {
					t.Fatalf("err = %v, want ErrUnparsableVerdict", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVerdict: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseVerdict = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if _, header, err := r.FormFile("file"); err != nil {
			t.Errorf("file part missing: %v", err)
		} else if !strings.HasSuffix(header.Filename, ".wav") {
			t.Errorf("filename = %q", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "what is a monad"})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "", false)
	text, err := c.Transcribe(context.Background(), []byte("RIFFdata"), "question_1.wav")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "what is a monad" {
		t.Fatalf("text = %q", text)
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "", false)
	if _, err := c.Transcribe(context.Background(), []byte("RIFFdata"), ""); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestTranscribeEmptyAudio(t *testing.T) {
	c := New("http://unused", "k", "", false)
	if _, err := c.Transcribe(context.Background(), nil, ""); err == nil {
		t.Fatal("expected error for empty audio")
	}
}

func TestClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var payload struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if payload.Model != "gpt-4-turbo-preview" {
			t.Errorf("model = %q", payload.Model)
		}
		if len(payload.Messages) != 2 || payload.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", payload.Messages)
		}
		if !strings.Contains(payload.Messages[1].Content, "Graph algorithms") {
			t.Errorf("user prompt missing topic: %q", payload.Messages[1].Content)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "Relevant. Dijkstra is a graph algorithm."}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", "", false)
	verdict, err := c.Classify(context.Background(), "How does Dijkstra handle negative weights?", "Graph algorithms")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !verdict.IsRelevant {
		t.Fatal("verdict should be relevant")
	}
	if verdict.Reason != "Dijkstra is a graph algorithm." {
		t.Fatalf("reason = %q", verdict.Reason)
	}
}

func TestClassifyNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := New(srv.URL, "k", "", false)
	if _, err := c.Classify(context.Background(), "q", "t"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestSkipMode(t *testing.T) {
	c := New("http://unreachable.invalid", "", "", true)

	text, err := c.Transcribe(context.Background(), nil, "")
	if err != nil || text == "" {
		t.Fatalf("skip Transcribe = %q, %v", text, err)
	}
	verdict, err := c.Classify(context.Background(), "q", "t")
	if err != nil || !verdict.IsRelevant {
		t.Fatalf("skip Classify = %+v, %v", verdict, err)
	}
}
