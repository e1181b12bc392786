// Command overlay-ocr recognises text in game screenshots from the command
// line or over HTTP.
package main

import "github.com/MeKo-Tech/overlay-ocr/cmd/ocr/cmd"

func main() {
	cmd.Execute()
}
