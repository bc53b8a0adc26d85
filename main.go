package main

import "github.com/neo/debatematch_backend/cmd"

func main() {
	cmd.Execute()
}
