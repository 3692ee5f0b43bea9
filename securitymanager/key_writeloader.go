package securitymanager

import (
	"bytes"
	"errors"
	"os"

	"github.com/dermesser/brokerrpc/internal/rpclog"
)

// keyWriteLoader is embedded in ServerSecurityManager and
// ClientSecurityManager to give both key persistence: loading a keypair
// back from disk, or writing one out for a peer to pick up.
type keyWriteLoader struct {
	public, private string
}

// LoadKeys loads the private and public key from the specified files.
// Does not initialize a key when the file name is DONOTREAD (for example
// when you only want to read the private key from disk -- use SetKeys() with an empty
// private key and then LoadKeys() with publicFile as DONOTREAD, leaving the public key untouched)
func (mgr *keyWriteLoader) LoadKeys(publicFile, privateFile string) error {
	if publicFile != DONOTREAD {
		var err error
		mgr.public, err = readFile(publicFile)

		if err != nil {
			rpclog.Log(rpclog.LevelError, "securitymanager: loading public key from", publicFile, "failed:", err.Error())
			return err
		}
	}

	if privateFile != DONOTREAD {
		var err error
		mgr.private, err = readFile(privateFile)

		if err != nil {
			rpclog.Log(rpclog.LevelError, "securitymanager: loading private key from", privateFile, "failed:", err.Error())
			return err
		}
	}
	return nil
}

func readFile(filename string) (string, error) {
	file, err := os.Open(filename)

	if err != nil {
		return "", err
	}
	defer file.Close()

	buf := bytes.NewBuffer(nil)

	n, err := buf.ReadFrom(file)

	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", errors.New("securitymanager: " + filename + " is empty, expected a key")
	}

	return buf.String(), nil
}

// Writes a keypair to the supplied files.
// If one of the file names is the constant DONOTWRITE, the function will not write to that file.
// e.g. mgr.WriteKeys("pubkey.txt", securitymanager.DONOTWRITE) writes only the public key.
func (mgr *keyWriteLoader) WriteKeys(publicFile, privateFile string) error {

	if publicFile != DONOTWRITE {
		err := writeFile(publicFile, mgr.public)

		if err != nil {
			rpclog.Log(rpclog.LevelError, "securitymanager: writing public key to", publicFile, "failed:", err.Error())
			return err
		}
	}

	if privateFile != DONOTWRITE {
		err := writeFile(privateFile, mgr.private)

		if err != nil {
			rpclog.Log(rpclog.LevelError, "securitymanager: writing private key to", privateFile, "failed:", err.Error())
			return err
		}
	}
	return nil
}

func writeFile(filename, content string) error {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)

	if err != nil {
		return err
	}
	defer file.Close()

	n, err := file.Write([]byte(content))

	if err != nil {
		return err
	}
	if n != len(content) {
		return errors.New("securitymanager: short write to " + filename)
	}

	return nil
}
