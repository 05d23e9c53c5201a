package sef

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/e-fakture/sefsync/app/models"
)

func TestSubmitSuccess(t *testing.T) {
	var gotBody string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf, _ := io.ReadAll(r.Body)
		gotBody = string(buf)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sefId":"X1","status":"PENDING"}`))
	}))
	defer srv.Close()

	c := NewClientForBaseURL(srv.URL, "api-key-123")
	res, err := c.Submit(context.Background(), Document{
		Type:    models.DocumentTypeInvoice,
		Payload: []byte("<Invoice/>"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SEFID != "X1" || res.Status != "PENDING" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotBody != "<Invoice/>" {
		t.Fatalf("payload not transmitted verbatim: %q", gotBody)
	}
	if gotAuth != "Bearer api-key-123" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
}

func TestSubmitValidatesInput(t *testing.T) {
	c := NewClientForBaseURL("http://127.0.0.1:1", "key")

	if _, err := c.Submit(context.Background(), Document{Type: models.DocumentTypeInvoice}); err == nil {
		t.Fatalf("empty payload must be rejected before any network call")
	}
	if _, err := c.Submit(context.Background(), Document{Type: "receipt", Payload: []byte("x")}); err == nil {
		t.Fatalf("unsupported document type must be rejected")
	}
}

func TestSubmitClassifiesErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		transient   bool
		permanent   bool
		maintenance bool
	}{
		{"server error", 503, `{"error":"upstream"}`, true, false, false},
		{"rate limited", 429, ``, true, false, false},
		{"internal error", 500, ``, true, false, false},
		{"bad request", 400, `{"error":"invalid ubl"}`, false, true, false},
		{"forbidden", 403, ``, false, true, false},
		{"maintenance window", 503, `{"message":"scheduled maintenance until 04:00"}`, true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClientForBaseURL(srv.URL, "key")
			_, err := c.Submit(context.Background(), Document{
				Type:    models.DocumentTypeInvoice,
				Payload: []byte("<Invoice/>"),
			})
			if err == nil {
				t.Fatalf("expected error for status %d", tt.status)
			}
			if IsTransient(err) != tt.transient {
				t.Fatalf("IsTransient = %v, want %v (err: %v)", IsTransient(err), tt.transient, err)
			}
			if IsPermanent(err) != tt.permanent {
				t.Fatalf("IsPermanent = %v, want %v (err: %v)", IsPermanent(err), tt.permanent, err)
			}
			if errors.Is(err, ErrMaintenance) != tt.maintenance {
				t.Fatalf("maintenance = %v, want %v (err: %v)", errors.Is(err, ErrMaintenance), tt.maintenance, err)
			}
		})
	}
}

func TestSubmitConnectionFailureIsTransient(t *testing.T) {
	// Nothing listens here; the dial fails at connection level.
	c := NewClientForBaseURL("http://127.0.0.1:1", "key")
	_, err := c.Submit(context.Background(), Document{
		Type:    models.DocumentTypeInvoice,
		Payload: []byte("<Invoice/>"),
	})
	if err == nil || !IsTransient(err) {
		t.Fatalf("connection failure must classify as transient, got %v", err)
	}
}

func TestPollStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("invoiceId"); got != "X1" {
			t.Errorf("invoiceId = %q, want X1", got)
		}
		w.Write([]byte(`{"status":"Approved"}`))
	}))
	defer srv.Close()

	c := NewClientForBaseURL(srv.URL, "key")
	status, err := c.PollStatus(context.Background(), "X1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != "Approved" {
		t.Fatalf("status = %q, want Approved", status)
	}
}
