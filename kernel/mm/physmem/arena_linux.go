//go:build linux

package physmem

import "golang.org/x/sys/unix"

// mapWindow reserves an anonymous private mapping. MAP_NORESERVE keeps large
// sparse windows cheap: host pages are only committed once touched.
func mapWindow(size int) ([]byte, func([]byte) error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return nil, nil, err
	}

	return mem, unix.Munmap, nil
}
