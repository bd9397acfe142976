// Command relay answers Telegram messages with a language model.
package main

func main() {
	Execute()
}
