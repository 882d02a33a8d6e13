package main

import "github.com/gregLibert/eid-middleware/internal/cli"

func main() {
	cli.Execute()
}
