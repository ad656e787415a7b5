package main

import "github.com/text-audit/data-collector/cmd"

func main() {
	cmd.Execute()
}
