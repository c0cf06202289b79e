//go:build windows

package main

import (
	"golang.org/x/sys/windows"
)

const cpUTF8 = 65001

func init() {
	// UTF-8 output and ANSI escapes for rendered markdown
	kernel32 := windows.NewLazySystemDLL("kernel32.dll")
	kernel32.NewProc("SetConsoleOutputCP").Call(uintptr(cpUTF8))

	stdout := windows.Handle(windows.Stdout)
	var mode uint32
	if err := windows.GetConsoleMode(stdout, &mode); err == nil {
		windows.SetConsoleMode(stdout, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING)
	}
}
