package main

import (
	"github.com/brocaar/lora-sensor-bridge/cmd/lora-bridge/cmd"
)

var version string // set by the linker at build time

func main() {
	cmd.Execute(version)
}
