// Command aicdma runs DMA workloads on a simulated controller.
package main

import "github.com/sarchlab/aicdma/cmd"

func main() {
	cmd.Execute()
}
