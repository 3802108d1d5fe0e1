package main

import "go-media-download/cmd/media-downloader/cmd"

func main() {
	cmd.Execute()
}
