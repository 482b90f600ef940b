package main

import "schedline/cmd/schedline/cmd"

func main() {
	cmd.Execute()
}
