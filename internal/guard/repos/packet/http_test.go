package packet

import "testing"

func TestExtractHTTPHost(t *testing.T) {
	req := "GET /path HTTP/1.1\r\nHost: ads.example.com\r\nUser-Agent: test\r\n\r\n"
	host, err := ExtractHTTPHost([]byte(req))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if host != "ads.example.com" {
		t.Fatalf("got %q", host)
	}
}

func TestExtractHTTPHost_NotARequest(t *testing.T) {
	_, err := ExtractHTTPHost([]byte("not an http request at all"))
	if err == nil {
		t.Fatalf("expected error for non-request payload")
	}
}

func TestExtractHTTPHost_NoHostHeader(t *testing.T) {
	req := "GET / HTTP/1.1\r\nUser-Agent: test\r\n\r\n"
	_, err := ExtractHTTPHost([]byte(req))
	if err == nil {
		t.Fatalf("expected error when Host header is absent")
	}
}

func TestExtractHTTPHeader_CaseInsensitiveName(t *testing.T) {
	req := "GET /banner.js HTTP/1.1\r\nHost: ads.example.com\r\nreferer: https://news.example.com/story\r\n\r\n"
	value, err := ExtractHTTPHeader([]byte(req), "Referer")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if value != "https://news.example.com/story" {
		t.Fatalf("got %q", value)
	}
}

func TestExtractHTTPHeader_Missing(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	_, err := ExtractHTTPHeader([]byte(req), "Referer")
	if err == nil {
		t.Fatalf("expected error when header is absent")
	}
}
