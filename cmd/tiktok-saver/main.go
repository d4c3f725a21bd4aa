package main

import (
	"github.com/M0usa391/video-saver-tik-tok/cmd/tiktok-saver/cmd"
)

func main() {
	cmd.Execute()
}
