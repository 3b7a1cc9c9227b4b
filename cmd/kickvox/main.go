// kickvox reads a Kick channel's chat aloud.
//
// Usage:
//
//	kickvox [channel] [--backend auto|system|azure|none] [--headless]
//	kickvox voices
//	kickvox version
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
