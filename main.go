package main

import "github.com/audiolibrelab/interviewcapture/cmd"

func main() {
	cmd.Execute()
}
