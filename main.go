package main

import "github.com/jmehdipour/notify-gateway/cmd"

func main() {
	cmd.Execute()
}
