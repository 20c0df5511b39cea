package candidate

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

var (
	// Matches a bare IP:PORT line (no scheme, no trailing garbage)
	candidateRegex = regexp.MustCompile(`^(\d{1,3})\.(\d{1,3})\.(\d{1,3})\.(\d{1,3}):(\d{1,5})$`)
)

// Candidate is one ip:port pair awaiting verification.
type Candidate struct {
	Host string
	Port int
}

// Addr returns the candidate in "ip:port" form.
func (c Candidate) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ParseStats reports what the parser saw in the input blobs.
type ParseStats struct {
	TotalLines int
	Malformed  int
	Duplicates int
}

// Parse extracts deduplicated candidates from one or more text blobs.
// Malformed lines are dropped silently; dedup keeps first-seen order.
func Parse(blobs ...string) ([]Candidate, ParseStats) {
	var stats ParseStats
	seen := make(map[string]struct{})
	candidates := make([]Candidate, 0)

	for _, blob := range blobs {
		scanner := bufio.NewScanner(strings.NewReader(blob))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			stats.TotalLines++

			cand, ok := parseLine(line)
			if !ok {
				stats.Malformed++
				continue
			}

			if _, exists := seen[line]; exists {
				stats.Duplicates++
				continue
			}
			seen[line] = struct{}{}
			candidates = append(candidates, cand)
		}
	}

	log.Debugf("Parsed candidates: %d valid, %d malformed, %d duplicates (from %d lines)",
		len(candidates), stats.Malformed, stats.Duplicates, stats.TotalLines)

	return candidates, stats
}

func parseLine(line string) (Candidate, bool) {
	matches := candidateRegex.FindStringSubmatch(line)
	if matches == nil {
		return Candidate{}, false
	}

	for _, octet := range matches[1:5] {
		n, err := strconv.Atoi(octet)
		if err != nil || n > 255 {
			return Candidate{}, false
		}
	}

	port, err := strconv.Atoi(matches[5])
	if err != nil || port > 65535 {
		return Candidate{}, false
	}

	host := strings.Join([]string{matches[1], matches[2], matches[3], matches[4]}, ".")
	return Candidate{Host: host, Port: port}, true
}
