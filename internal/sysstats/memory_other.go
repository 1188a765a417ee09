//go:build !linux

package sysstats

import "errors"

func readMemory() (used, total uint64, err error) {
	return 0, 0, errors.New("memory stats not supported on this platform")
}
