package main

import "github.com/kozaktomas/media-annotator/cmd"

func main() {
	cmd.Execute()
}
