package candidate

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name           string
		blobs          []string
		want           []string
		wantMalformed  int
		wantDuplicates int
	}{
		{
			name:           "dedup and drop malformed",
			blobs:          []string{"1.2.3.4:8080\n1.2.3.4:8080\nbad-entry\n9.9.9.9:3128\n"},
			want:           []string{"1.2.3.4:8080", "9.9.9.9:3128"},
			wantMalformed:  1,
			wantDuplicates: 1,
		},
		{
			name:  "octet out of range rejected",
			blobs: []string{"256.1.1.1:8080\n1.2.3.4:80\n"},
			want:  []string{"1.2.3.4:80"},

			wantMalformed: 1,
		},
		{
			name:          "port out of range rejected",
			blobs:         []string{"1.2.3.4:65536\n1.2.3.4:65535\n"},
			want:          []string{"1.2.3.4:65535"},
			wantMalformed: 1,
		},
		{
			name:          "scheme prefix rejected",
			blobs:         []string{"http://1.2.3.4:8080\n"},
			want:          []string{},
			wantMalformed: 1,
		},
		{
			name:          "whitespace trimmed",
			blobs:         []string{"  5.6.7.8:3128  \n\n\n"},
			want:          []string{"5.6.7.8:3128"},
			wantMalformed: 0,
		},
		{
			name:           "duplicates across blobs",
			blobs:          []string{"1.1.1.1:80\n2.2.2.2:80\n", "2.2.2.2:80\n3.3.3.3:80\n"},
			want:           []string{"1.1.1.1:80", "2.2.2.2:80", "3.3.3.3:80"},
			wantDuplicates: 1,
		},
		{
			name:  "empty input",
			blobs: []string{""},
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stats := Parse(tt.blobs...)

			addrs := make([]string, 0, len(got))
			for _, c := range got {
				addrs = append(addrs, c.Addr())
			}
			if !reflect.DeepEqual(addrs, tt.want) {
				t.Errorf("Parse() candidates = %v, want %v", addrs, tt.want)
			}
			if stats.Malformed != tt.wantMalformed {
				t.Errorf("Parse() malformed = %d, want %d", stats.Malformed, tt.wantMalformed)
			}
			if stats.Duplicates != tt.wantDuplicates {
				t.Errorf("Parse() duplicates = %d, want %d", stats.Duplicates, tt.wantDuplicates)
			}
		})
	}
}

func TestParseIdempotent(t *testing.T) {
	blob := "1.2.3.4:8080\n9.9.9.9:3128\n1.2.3.4:8080\nnot-a-proxy\n"

	first, firstStats := Parse(blob)
	second, secondStats := Parse(blob)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Parse() not idempotent: %v vs %v", first, second)
	}
	if firstStats != secondStats {
		t.Errorf("Parse() stats not idempotent: %+v vs %+v", firstStats, secondStats)
	}
}

func TestCandidateAddr(t *testing.T) {
	c := Candidate{Host: "10.0.0.1", Port: 8080}
	if got := c.Addr(); got != "10.0.0.1:8080" {
		t.Errorf("Addr() = %q, want %q", got, "10.0.0.1:8080")
	}
}
