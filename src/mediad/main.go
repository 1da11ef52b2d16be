package main

import "github.com/twivo/twivo-media/src/mediad/cmd"

func main() {
	cmd.Execute()
}
