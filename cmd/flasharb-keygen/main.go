// Command flasharb-keygen creates an executing wallet key. With -encrypt the
// key is written to -out encrypted under -password; otherwise the hex key is
// printed to stdout.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flasharb/internal/crypto"
)

func main() {
	encrypt := flag.Bool("encrypt", false, "write the key encrypted instead of printing it")
	password := flag.String("password", os.Getenv("FLASHARB_WALLET_KEY_PASSWORD"), "encryption password")
	out := flag.String("out", "wallet.key.json", "encrypted key output path")
	flag.Parse()

	if err := run(*encrypt, *password, *out); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		os.Exit(1)
	}
}

func run(encrypt bool, password, out string) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Printf("address: %s\n", ethcrypto.PubkeyToAddress(key.PublicKey).Hex())

	if !encrypt {
		fmt.Printf("private key: %s\n", hexutil.Encode(ethcrypto.FromECDSA(key)))
		return nil
	}
	if password == "" {
		return fmt.Errorf("-password (or FLASHARB_WALLET_KEY_PASSWORD) is required with -encrypt")
	}
	blob, err := crypto.EncryptKey(key, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Printf("encrypted key written to %s\n", out)
	return nil
}
