package main

import (
	"os"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
