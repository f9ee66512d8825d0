package main

import "github.com/nextlevelbuilder/pinchy/cmd"

func main() {
	cmd.Execute()
}
