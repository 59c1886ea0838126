// Command hashpw prints credentials in the form the bridge configuration
// expects: an argon2id hash for auth.users[].password_hash, or a fresh
// machine token with its hash for auth.machine_tokens[].token_hash.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/KevinKickass/PanelBridge/internal/auth"
)

func main() {
	machineToken := flag.Bool("machine-token", false, "generate a machine token instead of hashing a password")
	flag.Parse()

	if *machineToken {
		token, hash, err := auth.GenerateMachineToken()
		if err != nil {
			log.Fatalf("Failed to generate machine token: %v", err)
		}
		fmt.Printf("token:      %s\ntoken_hash: %s\n", token, hash)
		return
	}

	// Passwort von stdin, damit es nicht in der Shell-History landet
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		log.Fatalf("Failed to read password: %v", err)
	}

	hash, err := auth.NewPasswordHasher().HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}
	fmt.Println(hash)
}
