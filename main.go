package main

import "claude-relay/cmd"

func main() {
	cmd.Execute()
}
