package main

import "github.com/MichaelAJay/go-bsonmap/internal/cli"

func main() {
	cli.Execute()
}
