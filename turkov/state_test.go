package turkov

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// encodeDeviceState produces the cloud's double-encoded state payload: an
// array whose last element is a JSON string holding the state object.
func encodeDeviceState(t *testing.T, state map[string]any) string {
	t.Helper()
	inner, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("encode state: %v", err)
	}
	outer, err := json.Marshal([]any{"dev-1_state", string(inner)})
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return string(outer)
}

func TestGetDeviceState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/devices" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("device"); got != "dev-1_state" {
			t.Fatalf("device query = %q", got)
		}
		if got := r.Header.Get("x-access-token"); got != "access-seed" {
			t.Fatalf("access token header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, encodeDeviceState(t, map[string]any{"on": "true", "out_temp": "215"}))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, seedFreshToken)
	state, err := client.GetDeviceState(context.Background(), "dev-1", true)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state["on"] != "true" || state["out_temp"] != "215" {
		t.Fatalf("state = %v", state)
	}
}

func TestGetDeviceStateNotModified(t *testing.T) {
	var call int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		if call == 1 {
			w.Header().Set("ETag", `"state-v1"`)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, encodeDeviceState(t, map[string]any{"on": "true"}))
			return
		}
		if got := r.Header.Get("If-None-Match"); got != `"state-v1"` {
			t.Fatalf("validator = %q, want stored ETag", got)
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, seedFreshToken)

	if _, err := client.GetDeviceState(context.Background(), "dev-1", false); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	state, err := client.GetDeviceState(context.Background(), "dev-1", false)
	if err != nil {
		t.Fatalf("conditional fetch: %v", err)
	}
	if state != nil {
		t.Fatalf("not-modified fetch returned state %v, want nil", state)
	}
}

func TestDecodeDeviceStateRejectsMalformedPayloads(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not an array", `{"on":"true"}`},
		{"empty array", `[]`},
		{"last element not a string", `["dev-1_state", {"on":"true"}]`},
		{"inner not json", `["dev-1_state", "<html>"]`},
		{"inner not an object", `["dev-1_state", "[1,2]"]`},
		{"inner null", `["dev-1_state", "null"]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeDeviceState([]byte(tc.body))
			if !errors.Is(err, ErrProtocol) {
				t.Fatalf("expected ErrProtocol, got %v", err)
			}
		})
	}
}

func TestSetDeviceValue(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/user/device/dev-1" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"fan_speed":"2"}` {
			t.Fatalf("command body = %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"message":"success"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, seedFreshToken)
	if err := client.SetDeviceValue(context.Background(), "dev-1", "fan_speed", "2"); err != nil {
		t.Fatalf("set value: %v", err)
	}
}

func TestSetDeviceValueAcknowledgements(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantErr    error
		wantReject string
	}{
		{"rejected", `{"message":"device offline"}`, nil, "device offline"},
		{"no message", `{}`, ErrProtocol, ""},
		{"not json", `<html>`, ErrProtocol, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, tc.body)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, seedFreshToken)
			err := client.SetDeviceValue(context.Background(), "dev-1", "on", "true")
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if tc.wantReject != "" && !strings.Contains(err.Error(), tc.wantReject) {
				t.Fatalf("rejection message missing from %v", err)
			}
		})
	}
}

func TestSetDeviceValueStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, seedFreshToken)
	err := client.SetDeviceValue(context.Background(), "dev-1", "on", "true")

	var statusErr StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != http.StatusBadGateway {
		t.Fatalf("status = %d", statusErr.Status)
	}
}
