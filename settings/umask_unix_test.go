//go:build unix

package settings

import "syscall"

func setUmask(mask int) int {
	return syscall.Umask(mask)
}
