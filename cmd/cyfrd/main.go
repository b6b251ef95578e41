// Command cyfrd runs the cyfr MCP governance plane server.
package main

import "github.com/cyfrworks/cyfr/cmd/cyfrd/cmd"

func main() {
	cmd.Execute()
}
