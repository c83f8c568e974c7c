package delivery

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDeliver(t *testing.T) {
	var gotMethod, gotType, gotLocation, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotType = r.Header.Get("Content-Type")
		gotLocation = r.Header.Get("Content-Location")
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d := NewDispatcher(5*time.Second, zerolog.Nop())
	target := Target{URL: srv.URL + "/node/12/media/captions", Authorization: "Bearer islandora-jwt"}
	status, err := d.Deliver(context.Background(), target, []byte("WEBVTT\n"))
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if status != http.StatusCreated {
		t.Errorf("status = %d, want 201", status)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %s, want PUT", gotMethod)
	}
	if gotType != "text/plain" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotLocation != target.URL {
		t.Errorf("Content-Location = %q, want %q", gotLocation, target.URL)
	}
	if gotAuth != "Bearer islandora-jwt" {
		t.Errorf("Authorization = %q, want verbatim", gotAuth)
	}
	if gotBody != "WEBVTT\n" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestDeliverRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewDispatcher(5*time.Second, zerolog.Nop())
	status, err := d.Deliver(context.Background(), Target{URL: srv.URL}, []byte("x"))
	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DeliveryError", err)
	}
	if status != http.StatusUnauthorized || de.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d / %d, want 401", status, de.StatusCode)
	}
	if de.Body != "token expired\n" {
		t.Errorf("Body = %q", de.Body)
	}
}

func TestDeliverTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewDispatcher(time.Second, zerolog.Nop())
	_, err := d.Deliver(context.Background(), Target{URL: url}, []byte("x"))
	var de *DeliveryError
	if !errors.As(err, &de) || de.Err == nil || de.StatusCode != 0 {
		t.Errorf("err = %v, want transport *DeliveryError", err)
	}

	if _, err := d.Deliver(context.Background(), Target{URL: "://bad"}, nil); !errors.As(err, &de) {
		t.Errorf("err = %v, want *DeliveryError for bad url", err)
	}
}
