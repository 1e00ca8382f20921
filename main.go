package main

import "github.com/nextlevelbuilder/larkpipe/cmd"

func main() {
	cmd.Execute()
}
