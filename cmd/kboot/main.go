// Command kboot boots the physical memory allocator on an emulated machine
// described by a firmware memory map.
package main

func main() {
	execute()
}
