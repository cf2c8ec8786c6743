package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaywire/messaging-relay/environments"
	"github.com/relaywire/messaging-relay/internal/domain"
)

func newTestClient(serverURL string) *Client {
	return NewClient(environments.GatewayConfig{
		BaseURL:         serverURL,
		RequestTimeout:  5 * time.Second,
		DownloadTimeout: 5 * time.Second,
	})
}

func TestSend_Success(t *testing.T) {
	var gotPath, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sent":true,"message":{"id":"prov-42"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	id, err := client.Send(context.Background(), "tok-1", domain.TypeText, domain.SendPayload{
		To:   "123@s.whatsapp.net",
		Body: "hello",
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if id != "prov-42" {
		t.Errorf("expected provider id prov-42, got %q", id)
	}
	if gotPath != "/messages/text" {
		t.Errorf("expected type-specific endpoint, got %q", gotPath)
	}
	if gotAuth != "Bearer tok-1" {
		t.Errorf("expected bearer token, got %q", gotAuth)
	}
}

func TestSend_MediaTypeUsesMediaEndpoint(t *testing.T) {
	var gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"sent":true,"message":{"id":"prov-1"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	if _, err := client.Send(context.Background(), "tok", domain.TypeImage, domain.SendPayload{
		To:       "123@s.whatsapp.net",
		MediaURL: "https://cdn.example.com/x.jpg",
	}); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if gotPath != "/messages/image" {
		t.Errorf("expected /messages/image, got %q", gotPath)
	}
}

func TestSend_UnsupportedTypeIsTerminal(t *testing.T) {
	client := newTestClient("http://unused.invalid")

	_, err := client.Send(context.Background(), "tok", domain.MessageType("sticker"), domain.SendPayload{})
	if err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if KindOf(err) != KindTerminal {
		t.Errorf("expected terminal error, got kind %d", KindOf(err))
	}
}

func TestSend_StatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   Kind
	}{
		{"rate limited", http.StatusTooManyRequests, KindRateLimited},
		{"unauthorized", http.StatusUnauthorized, KindUnauthorized},
		{"server error", http.StatusBadGateway, KindRetryable},
		{"bad request", http.StatusBadRequest, KindTerminal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error":{"message":"provider says no"}}`))
			}))
			defer server.Close()

			client := newTestClient(server.URL)

			_, err := client.Send(context.Background(), "tok", domain.TypeText, domain.SendPayload{To: "x", Body: "y"})
			if err == nil {
				t.Fatalf("expected error for status %d", tc.status)
			}
			if got := KindOf(err); got != tc.want {
				t.Errorf("status %d: expected kind %d, got %d", tc.status, tc.want, got)
			}
		})
	}
}

func TestSend_MissingMessageIDIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sent":true,"message":{}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	_, err := client.Send(context.Background(), "tok", domain.TypeText, domain.SendPayload{To: "x", Body: "y"})
	if err == nil {
		t.Fatalf("expected error for missing message id")
	}
	if KindOf(err) != KindRetryable {
		t.Errorf("expected retryable, got kind %d", KindOf(err))
	}
}

func TestGetSettings(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"connected","authenticated":true,"qr_required":false}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	settings, err := client.GetSettings(context.Background(), "tok")
	if err != nil {
		t.Fatalf("GetSettings returned error: %v", err)
	}

	if !settings.Authenticated || settings.QRRequired {
		t.Errorf("unexpected settings: %+v", settings)
	}
}

func TestDownloadMedia(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media/media-1/download" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("jpeg bytes"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	data, contentType, err := client.DownloadMedia(context.Background(), "tok", "media-1")
	if err != nil {
		t.Fatalf("DownloadMedia returned error: %v", err)
	}

	if string(data) != "jpeg bytes" || contentType != "image/jpeg" {
		t.Errorf("unexpected download: %q %q", data, contentType)
	}
}

func TestMediaInfoDirectURL(t *testing.T) {
	both := &MediaInfo{URL: "https://a", Link: "https://b"}
	if both.DirectURL() != "https://a" {
		t.Errorf("url field should win, got %q", both.DirectURL())
	}

	linkOnly := &MediaInfo{Link: "https://b"}
	if linkOnly.DirectURL() != "https://b" {
		t.Errorf("expected link fallback, got %q", linkOnly.DirectURL())
	}
}
