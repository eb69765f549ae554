package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNotifierPostsMessage(t *testing.T) {
	forms := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		forms <- map[string]string{
			"chat_id":    r.PostForm.Get("chat_id"),
			"text":       r.PostForm.Get("text"),
			"parse_mode": r.PostForm.Get("parse_mode"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier("token", "42")
	n.apiBase = srv.URL
	if err := n.Notify(context.Background(), "Riesgo rojo: acme_sa", "Legal: High"); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}

	form := <-forms

	if form["chat_id"] != "42" || form["parse_mode"] != "Markdown" {
		t.Fatalf("unexpected form %+v", form)
	}
	if !strings.HasPrefix(form["text"], "*Riesgo rojo: acme\\_sa*\n") {
		t.Fatalf("unexpected text %q", form["text"])
	}
}

func TestNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewNotifier("token", "42")
	n.apiBase = srv.URL
	err := n.Notify(context.Background(), "", "x")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected status error, got %v", err)
	}
	if strings.Contains(err.Error(), `"ok"`) {
		t.Fatalf("expected decoded description, got %v", err)
	}
}

func TestFormatMessageEscapesBody(t *testing.T) {
	body := "- Resolución de 3 de marzo\nHigh-Legal (0.92)\nhttps://www.boe.es/diario_boe/txt.php?id=BOE-B-2024-1 [ref] *nota*"
	text := formatMessage("Riesgo rojo", body)

	if !strings.HasPrefix(text, "*Riesgo rojo*\n") {
		t.Fatalf("subject must stay bold, got %q", text)
	}
	for _, want := range []string{"diario\\_boe", "\\[ref]", "\\*nota\\*"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in %q", want, text)
		}
	}
	if strings.Contains(text, "diario_boe") {
		t.Fatalf("unescaped underscore left in %q", text)
	}
}

func TestNotifierSendsEscapedURL(t *testing.T) {
	texts := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		texts <- r.PostForm.Get("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier("token", "42")
	n.apiBase = srv.URL
	if err := n.Notify(context.Background(), "Riesgo rojo: ACME", "https://www.boe.es/diario_boe/txt.php"); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if text := <-texts; !strings.HasSuffix(text, "https://www.boe.es/diario\\_boe/txt.php") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestFormatMessageTruncates(t *testing.T) {
	text := formatMessage("Riesgo", strings.Repeat("a", 5000))
	if n := len([]rune(text)); n != maxMessageRunes {
		t.Fatalf("expected %d runes, got %d", maxMessageRunes, n)
	}
	if !strings.HasSuffix(text, "…") {
		t.Fatalf("expected ellipsis suffix")
	}
}

func TestNotifierMisconfigured(t *testing.T) {
	if err := NewNotifier("", "").Notify(context.Background(), "s", "m"); err == nil {
		t.Fatal("expected error for missing token")
	}
}
