package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var ErrNoIDs = errors.New("no item ids")

// LoadIDs reads one integer id per line. Blank and non-numeric lines are
// skipped and duplicates keep their first position.
func LoadIDs(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open id file: %w", err)
	}
	defer f.Close()

	var (
		out  []int64
		seen = map[int64]bool{}
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil || id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read id file: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoIDs, path)
	}
	return out, nil
}
