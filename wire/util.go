package wire

import (
	"fmt"

	"github.com/user/gatts-table/wire/att"
)

// shortHash safely returns up to the first 8 characters of a string (or the full string if shorter)
func shortHash(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

func logPrefix(id string) string {
	return fmt.Sprintf("%s Wire", shortHash(id))
}

// clampMTU bounds an ATT_MTU to [DefaultMTU, max].
func clampMTU(mtu, max uint16) uint16 {
	if mtu > max {
		mtu = max
	}
	if mtu < att.DefaultMTU {
		mtu = att.DefaultMTU
	}
	return mtu
}
