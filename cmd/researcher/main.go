package main

import "github.com/lexcodex/deepresearch/app/cmd"

func main() {
	cmd.Execute()
}
