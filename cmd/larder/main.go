package main

import "github.com/felixgeelhaar/larder/cmd/larder/cli"

func main() {
	cli.Execute()
}
