package main

import "github.com/autisense/autisense/cmd"

func main() {
	cmd.Execute()
}
