package main

import "github.com/tanq16/splitwire/cmd"

func main() {
	cmd.Execute()
}
