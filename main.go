package main

import "github.com/example/facegate/cmd"

func main() {
	cmd.Execute()
}
