package main

import "github.com/endorses/ymsgcat/cmd"

func main() {
	cmd.Execute()
}
