package main

import "github.com/ppiankov/trustgate/internal/cli"

func main() {
	cli.Execute()
}
