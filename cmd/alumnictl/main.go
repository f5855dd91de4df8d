package main

import "github.com/jrsteele09/alumni-session/cmd/alumnictl/cmd"

func main() {
	cmd.Execute()
}
