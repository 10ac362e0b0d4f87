package main

import "github.com/arcward/wordlebot/cmd"

func main() {
	cmd.Execute()
}
