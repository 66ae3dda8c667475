package main

import (
	"strings"

	"github.com/fatih/color"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

// colorStatus colors a status line by its bracketed tag.
func colorStatus(s string) string {
	switch {
	case strings.HasPrefix(s, "[ERROR]"):
		return red(s)
	case strings.HasPrefix(s, "[WARNING]"):
		return yellow(s)
	case strings.HasPrefix(s, "[INTERCEPT]"):
		return cyan(s)
	case strings.HasPrefix(s, "[PROXY]"), strings.HasPrefix(s, "[SYSTEM]"):
		return green(s)
	}
	return s
}

func onOff(b bool) string {
	if b {
		return green("on")
	}
	return dim("off")
}
