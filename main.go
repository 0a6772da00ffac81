package main

import "github.com/github-community-projects/internal-contribution-forks/cmd"

func main() {
	cmd.Execute()
}
