package main

import "github.com/leasify/leased/internal/cli"

func main() {
	cli.Execute()
}
