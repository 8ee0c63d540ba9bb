package main

import "github.com/bryanchriswhite/streamrelay/cmd/streamrelay/commands"

func main() {
	commands.Execute()
}
