// Command pdfchat runs the PDF chat API and its maintenance tasks.
//
//	@title						PDF Chat API
//	@version					1.0
//	@description				Upload PDFs and ask questions answered from their text.
//	@BasePath					/api
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
package main

import (
	"fmt"
	"os"

	"github.com/tbourn/pdf-chat-backend/cmd/pdfchat/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
