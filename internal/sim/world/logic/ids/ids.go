// Package ids formats and parses the text forms of grid positions and
// device identities used in logs, CLIs and error messages.
package ids

import (
	"fmt"
	"strconv"
	"strings"
)

// DeviceID names the device of kind at pos, e.g. "PIPE@1,64,-3".
func DeviceID(kind string, pos [3]int) string {
	return kind + "@" + FormatPos(pos)
}

func ParseDeviceID(id string) (kind string, pos [3]int, ok bool) {
	parts := strings.SplitN(id, "@", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", pos, false
	}
	pos, err := ParsePos(parts[1])
	if err != nil {
		return "", pos, false
	}
	return parts[0], pos, true
}

func FormatPos(pos [3]int) string {
	return fmt.Sprintf("%d,%d,%d", pos[0], pos[1], pos[2])
}

// ParsePos reads "x,y,z". Whitespace around components is ignored.
func ParsePos(s string) ([3]int, error) {
	var p [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return p, fmt.Errorf("expected x,y,z")
	}
	for i := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return p, err
		}
		p[i] = n
	}
	return p, nil
}
