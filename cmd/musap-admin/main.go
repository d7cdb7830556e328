package main

import (
	"github.com/methics/musap-ios-sub000/cmd/cli"
)

// main is the entry point for the musap-admin command-line tool.
func main() {
	cli.Execute()
}
