package main

import "github.com/warp/quotebook/cli"

func main() {
	cli.Execute()
}
