package main

import "github.com/tanq16/stager/cmd"

func main() {
	cmd.Execute()
}
