// Command brokerrpc-keygen generates a CURVE keypair for use with the ZeroMQ
// transport's security manager and writes it to two files.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dermesser/brokerrpc/securitymanager"
)

func main() {
	var pubfile, privfile string

	flag.StringVar(&pubfile, "pub", "publickey.txt", "File to write the public key to.")
	flag.StringVar(&privfile, "priv", "privatekey.txt", "File to write the private key to.")
	flag.Parse()

	mgr := securitymanager.NewClientSecurityManager()
	if mgr == nil {
		fmt.Fprintln(os.Stderr, "brokerrpc-keygen: could not generate keypair")
		os.Exit(1)
	}

	if err := mgr.WriteKeys(pubfile, privfile); err != nil {
		fmt.Fprintln(os.Stderr, "brokerrpc-keygen:", err.Error())
		os.Exit(1)
	}

	fmt.Println("Wrote public key to", pubfile, "and private key to", privfile)
}
