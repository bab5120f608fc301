package packet

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Cody005/shadowguard/internal/guard/common/errs"
)

func buildDNSQuery(name string) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[4:6], 1) // QDCOUNT=1
	for _, label := range splitLabels(name) {
		buf = append(buf, byte(len(label)))
		buf = append(buf, []byte(label)...)
	}
	buf = append(buf, 0)
	buf = append(buf, 0, 1, 0, 1) // QTYPE=A, QCLASS=IN
	return buf
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	return labels
}

func TestExtractDNSQuestionName(t *testing.T) {
	msg := buildDNSQuery("ads.example.com")
	name, err := ExtractDNSQuestionName(msg)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if name != "ads.example.com" {
		t.Fatalf("got %q", name)
	}
}

func TestExtractDNSQuestionName_RejectsCompressionPointer(t *testing.T) {
	msg := buildDNSQuery("example.com")
	// Replace the first label-length byte with a compression pointer marker.
	msg[12] = 0xC0
	_, err := ExtractDNSQuestionName(msg)
	if err == nil || !errors.Is(err, errs.ErrParse) {
		t.Fatalf("expected ErrParse for compression pointer, got %v", err)
	}
}

func TestExtractDNSQuestionName_RejectsResponse(t *testing.T) {
	msg := buildDNSQuery("example.com")
	msg[2] |= 0x80 // set QR=1, marking this a response
	_, err := ExtractDNSQuestionName(msg)
	if err == nil || !errors.Is(err, errs.ErrParse) {
		t.Fatalf("expected ErrParse for a response packet, got %v", err)
	}
}

func TestExtractDNSQuestionName_TooShort(t *testing.T) {
	_, err := ExtractDNSQuestionName([]byte{1, 2, 3})
	if err == nil {
		t.Fatalf("expected error for truncated message")
	}
}
