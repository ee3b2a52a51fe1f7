// Package main is the harvester entrypoint.
package main

import (
	"os"

	"github.com/adquify/catalog-harvester/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
