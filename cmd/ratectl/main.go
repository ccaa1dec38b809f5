package main

import "freightaudit/internal/cli"

func main() {
	cli.Execute()
}
