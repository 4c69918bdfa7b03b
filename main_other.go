//go:build !linux

package main

import (
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// Global hotkeys on macOS and Windows are delivered through the main
// thread's event loop.
func main() {
	mainthread.Init(run)
}
