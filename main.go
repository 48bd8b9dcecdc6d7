// The main package for the contactsync executable.
package main

import (
	"github.com/JakeFAU/crm-contact-sync/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
