package main

import (
	"fmt"
	"os"

	"github.com/technosupport/ts-wristlink/internal/auth"
)

// genpass prints the argon2 hash of an admin key for ADMIN_KEY_HASH /
// pairing.admin_key_hash.
func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: genpass <admin-key>")
		os.Exit(2)
	}
	hash, err := auth.HashSecret(os.Args[1])
	if err != nil {
		panic(err)
	}
	fmt.Println(hash)
}
