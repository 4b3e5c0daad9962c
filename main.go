package main

import "act-relay/cmd"

func main() {
	cmd.Execute()
}
