package memfs

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultMode is the built-in root/creation mode, RAMFS_DEFAULT_MODE.
const DefaultMode uint32 = 0o755

// MountOptions is the recognized mount-time configuration.
type MountOptions struct {
	Mode uint32
}

// ParseOptions interprets a textual key=value option list as passed by
// mount(2). Only "mode" (octal) is recognized; everything else is accepted
// and ignored. This filesystem stands in for a richer one whose option set
// is a superset, so unknown keys must not fail the mount. A malformed value
// of a recognized key does fail it.
func ParseOptions(raw string) (MountOptions, error) {
	opts := MountOptions{Mode: DefaultMode}

	for _, tok := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		key, value, _ := strings.Cut(tok, "=")
		switch key {
		case "mode":
			mode, err := strconv.ParseUint(value, 8, 32)
			if err != nil {
				return opts, fmt.Errorf("%w: mode=%q: %v", ErrInvalidOption, value, err)
			}
			opts.Mode = uint32(mode) & S_IALLUGO
		default:
			// ignored for compatibility
		}
	}
	return opts, nil
}

// String echoes the options for self-description. Only values differing from
// the built-in defaults are reported, mirroring show_options in /proc/mounts.
func (o MountOptions) String() string {
	if o.Mode != DefaultMode {
		return fmt.Sprintf("mode=%o", o.Mode)
	}
	return ""
}
