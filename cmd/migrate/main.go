package main

import "coursemigrate/cmd/migrate/commands"

func main() {
	commands.Execute()
}
