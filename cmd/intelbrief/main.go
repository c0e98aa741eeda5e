package main

import (
	"intelbrief/cmd/cmd"
)

func main() {
	cmd.Execute()
}
