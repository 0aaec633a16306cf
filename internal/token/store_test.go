package token

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("")

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load on empty store err = %v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, "abc"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil || got != "abc" {
		t.Errorf("Load() = (%q, %v), want (abc, nil)", got, err)
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "token")
	s := NewFileStore(path)

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load on missing file err = %v, want ErrNotFound", err)
	}

	if err := s.Save(ctx, "first"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := s.Save(ctx, "second"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil || got != "second" {
		t.Errorf("Load() = (%q, %v), want (second, nil)", got, err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the token file", len(entries))
	}
}

func TestFileStore_BlankFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		name    string
		pageURL string
		want    string
	}{
		{"with token", "https://chat.example.com/im?token=abc&room=1", "abc"},
		{"without token", "https://chat.example.com/im?room=1", ""},
		{"empty", "", ""},
		{"bad url", "://bad", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromPageURL(tt.pageURL); got != tt.want {
				t.Errorf("FromPageURL() = %q, want %q", got, tt.want)
			}
		})
	}

	updated := WithPageToken("https://chat.example.com/im?token=abc&room=1", "xyz")
	if got := FromPageURL(updated); got != "xyz" {
		t.Errorf("token after WithPageToken = %q, want xyz", got)
	}
	if got := WithPageToken("", "xyz"); got != "" {
		t.Errorf("WithPageToken on empty = %q, want empty", got)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("stored")

	got, err := Resolve(ctx, "https://chat.example.com/im?token=fromurl", store)
	if err != nil || got != "fromurl" {
		t.Errorf("Resolve() = (%q, %v), want page token first", got, err)
	}

	got, err = Resolve(ctx, "https://chat.example.com/im", store)
	if err != nil || got != "stored" {
		t.Errorf("Resolve() = (%q, %v), want stored", got, err)
	}

	if _, err := Resolve(ctx, "", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve with nothing err = %v, want ErrNotFound", err)
	}
	if _, err := Resolve(ctx, "", NewMemoryStore("")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve with empty store err = %v, want ErrNotFound", err)
	}
}
