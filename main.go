package main

import "github.com/Martian-dev/watchlane/internal/cli"

func main() {
	cli.Execute()
}
