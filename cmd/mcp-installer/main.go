package main

import "github.com/oshokin/mcp-installer/cmd/mcp-installer/cmd"

func main() {
	cmd.Execute()
}
