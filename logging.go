package main

import (
	"github.com/fatih/color"
)

// UI helpers for standardized logging across the node's duties.

func PrintSuccess(format string, a ...interface{}) {
	color.Green("✅ "+format, a...)
}

func PrintError(format string, a ...interface{}) {
	color.Red("⛔ "+format, a...)
}

func PrintInfo(format string, a ...interface{}) {
	color.Cyan("ℹ️  "+format, a...)
}

func PrintWarning(format string, a ...interface{}) {
	color.Yellow("⚠️  "+format, a...)
}

// PrintProposer logs proposer-duty activity: block sealing and its
// yield reasons.
func PrintProposer(format string, a ...interface{}) {
	c := color.New(color.FgMagenta, color.Bold)
	c.Printf("🔨 "+format+"\n", a...)
}

// PrintSync logs sync-duty activity: peer catch-up progress.
func PrintSync(format string, a ...interface{}) {
	c := color.New(color.FgBlue)
	c.Printf("🔄 "+format+"\n", a...)
}
