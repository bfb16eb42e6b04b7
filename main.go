// Package main is the entry point for the shadowbox CLI.
package main

import "shadowbox.dev/pkg/shadowbox/cmd"

func main() {
	cmd.Execute()
}
