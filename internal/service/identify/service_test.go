package identify

import (
	"context"
	"errors"
	"testing"
)

type fakeVision struct {
	output   string
	err      error
	calls    int
	imageURL string
}

func (f *fakeVision) DescribeImage(_ context.Context, imageURL, _ string) (string, error) {
	f.calls++
	f.imageURL = imageURL
	return f.output, f.err
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestIdentifyStrategies(t *testing.T) {
	cases := []struct {
		name   string
		output string
		title  string
		author string
	}{
		{name: "json", output: "```json\n{\"title\": \"Dune\", \"author\": \"Frank Herbert\"}\n```", title: "Dune", author: "Frank Herbert"},
		{name: "json null author", output: `{"title": "Beowulf", "author": null}`, title: "Beowulf", author: "<nil>"},
		{name: "json unknown", output: `{"title": "unknown", "author": "Unknown"}`, title: "<nil>", author: "<nil>"},
		{name: "byline", output: `"Stand By Me" by Stephen King`, title: "Stand By Me", author: "Stephen King"},
		{name: "dash", output: "Middlemarch - George Eliot", title: "Middlemarch", author: "George Eliot"},
		{name: "unreadable", output: "I cannot read this cover.", title: "<nil>", author: "<nil>"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewService(&fakeVision{output: tc.output}, 0, nil)
			result, err := svc.Identify(context.Background(), "aGVsbG8=")
			if err != nil {
				t.Fatalf("Identify err: %v", err)
			}
			if deref(result.Title) != tc.title || deref(result.Author) != tc.author {
				t.Fatalf("got (%s, %s), want (%s, %s)", deref(result.Title), deref(result.Author), tc.title, tc.author)
			}
		})
	}
}

func TestIdentifyEmptyImageSkipsUpstream(t *testing.T) {
	vision := &fakeVision{output: `{"title": "Dune"}`}
	svc := NewService(vision, 0, nil)

	result, err := svc.Identify(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Identify err: %v", err)
	}
	if result.Title != nil || result.Author != nil {
		t.Fatalf("expected nulls, got %+v", result)
	}
	if vision.calls != 0 {
		t.Fatalf("expected no upstream call, got %d", vision.calls)
	}
}

func TestIdentifyImageEncoding(t *testing.T) {
	vision := &fakeVision{output: `{"title": "Dune"}`}
	svc := NewService(vision, 0, nil)
	ctx := context.Background()

	if _, err := svc.Identify(ctx, "aGVsbG8="); err != nil {
		t.Fatalf("Identify err: %v", err)
	}
	if vision.imageURL != "data:image/jpeg;base64,aGVsbG8=" {
		t.Fatalf("unexpected image url %q", vision.imageURL)
	}

	if _, err := svc.Identify(ctx, "data:image/png;base64,aGVsbG8="); err != nil {
		t.Fatalf("Identify err: %v", err)
	}
	if vision.imageURL != "data:image/png;base64,aGVsbG8=" {
		t.Fatalf("data url should pass through, got %q", vision.imageURL)
	}

	if _, err := svc.Identify(ctx, "not base64!!"); !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("expected ErrInvalidImage, got %v", err)
	}
}

func TestIdentifyUpstreamError(t *testing.T) {
	boom := errors.New("vision down")
	svc := NewService(&fakeVision{err: boom}, 0, nil)

	if _, err := svc.Identify(context.Background(), "aGVsbG8="); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}
}
