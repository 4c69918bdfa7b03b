//go:build linux

package main

// The evdev hotkey reader needs no main-thread event loop on Linux.
func main() {
	run()
}
