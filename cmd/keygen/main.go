package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/fleecy/participant/internal/infrastructure/remote"
	"github.com/fleecy/participant/pkg/utils/sshkeygen"
)

// keygen creates the key the server uses to reach participant VMs and
// prints the public half for the VM image or cloud-init.
func main() {
	out := flag.String("out", "~/.ssh/key.pem", "private key path")
	force := flag.Bool("force", false, "replace an existing key")
	flag.Parse()

	privateKeyPath, err := remote.ExpandHome(*out)
	if err != nil {
		log.Fatalf("Failed to resolve key path: %v", err)
	}

	fmt.Printf("Private key: %s\n", privateKeyPath)
	fmt.Printf("Public key: %s.pub\n", privateKeyPath)

	wrote, err := sshkeygen.WriteKeyPair(privateKeyPath, *force)
	if err != nil {
		log.Fatalf("Failed to generate key pair: %v", err)
	}
	if wrote {
		fmt.Printf("✓ Key pair generated successfully\n")
	} else {
		fmt.Printf("✓ Key pair already exists (skipped, use -force to replace)\n")
	}

	private, err := os.ReadFile(privateKeyPath)
	if err != nil {
		log.Fatalf("Failed to read private key: %v", err)
	}
	authorized, err := sshkeygen.AuthorizedKey(private)
	if err != nil {
		log.Fatalf("Failed to derive public key: %v", err)
	}
	fmt.Printf("\nAdd this line to ~/.ssh/authorized_keys on each VM:\n%s", authorized)
}
