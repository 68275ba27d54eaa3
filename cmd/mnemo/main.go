// Command mnemo downloads, decodes and stores surveys from a mnemo cave
// survey device, and updates its firmware.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		os.Exit(1)
	}
}
