package main

import "hotel-rate-shadow/internal/cli"

func main() {
	cli.Execute()
}
