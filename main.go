package main

import "github.com/turbine-data/adsync/internal/cmd"

func main() {
	cmd.Execute()
}
