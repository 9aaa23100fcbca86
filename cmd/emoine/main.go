package main

import "github.com/zfogg/emoine/internal/cmd"

func main() {
	cmd.Execute()
}
