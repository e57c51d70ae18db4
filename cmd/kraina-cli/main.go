// Command kraina-cli talks to the running krAIna app over its local command
// host and works offline on the conversation database.
package main

func main() {
	Execute()
}
