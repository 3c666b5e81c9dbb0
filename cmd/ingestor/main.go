// The main package for the ingestor executable.
package main

import "github.com/JakeFAU/realtime-news-ingestor/cmd"

func main() {
	cmd.Execute()
}
