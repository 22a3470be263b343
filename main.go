package main

import "github.com/nvr-ai/go-annotator/cmd"

func main() {
	cmd.Execute()
}
