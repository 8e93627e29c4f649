package main

import "github.com/nxtlo/Fated/cmd"

func main() {
	cmd.Execute()
}
