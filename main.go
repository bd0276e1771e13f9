package main

import "github.com/mcpchat/mcpchat/cmd"

func main() {
	cmd.Execute()
}
