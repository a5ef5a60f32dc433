package main

import "eventnet/cmd/eventnet/command"

func main() {
	command.Execute()
}
