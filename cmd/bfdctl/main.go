// bfdctl is the command-line client for the bfdd monitor service.
package main

import "github.com/dantte-lp/bfdd/cmd/bfdctl/commands"

func main() {
	commands.Execute()
}
