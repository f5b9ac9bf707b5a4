package topology

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
)

var ns2SetRe = regexp.MustCompile(`^\$node_\((\d+)\)\s+set\s+([XYZ])_\s+(-?[0-9.eE+-]+)`)

// LoadNS2Positions reads the initial node positions of an ns-2 mobility trace.
func LoadNS2Positions(path string) (map[int]Position, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mobility trace %s: %w", path, err)
	}
	defer f.Close()
	return ParseNS2Positions(f)
}

// ParseNS2Positions extracts "$node_(i) set X_ v" lines. Movement commands
// ("$ns_ at ... setdest") are ignored.
func ParseNS2Positions(r io.Reader) (map[int]Position, error) {
	out := make(map[int]Position)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		m := ns2SetRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad node index: %w", line, err)
		}
		v, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad coordinate: %w", line, err)
		}
		p := out[idx]
		switch m[2] {
		case "X":
			p.X = v
		case "Y":
			p.Y = v
		case "Z":
			p.Z = v
		}
		out[idx] = p
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
