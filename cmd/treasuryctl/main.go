package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"daotreasury/internal/passphrase"
	"daotreasury/crypto"
	"daotreasury/services/treasuryd/server"
)

const (
	keygenCommand  = "keygen"
	addressCommand = "address"
	tokenCommand   = "token"

	defaultKeystore  = "admin.keystore"
	defaultSecretEnv = "TREASURY_JWT_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type passSource interface {
	Get() (string, error)
}

var newPassSource = func(envVar string) passSource {
	return passphrase.NewSource(envVar, "keystore")
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case keygenCommand:
		return runKeygen(args, out)
	case addressCommand:
		return runAddress(args, out)
	case tokenCommand:
		return runToken(args, out)
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", command)
	}
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("out", defaultKeystore, "Output path for the encrypted keystore")
	passEnv := fs.String("pass-env", passphrase.DefaultEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	light := fs.Bool("light", false, "Use light scrypt parameters (development only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use -force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	secret, err := newPassSource(*passEnv).Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	strength := crypto.KeystoreStandard
	if *light {
		strength = crypto.KeystoreLight
	}
	if err := crypto.SaveToKeystoreWithStrength(*keystorePath, key, secret, strength); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	fmt.Fprintf(out, "Wrote keystore to %s\n%s\n", *keystorePath, key.PubKey().Address().String())
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(addressCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", defaultKeystore, "Path to the keystore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.KeystoreAddress(*keystorePath)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, addr.String())
	return nil
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	member := fs.String("member", "", "Member address to issue the token for (defaults to the keystore address)")
	keystorePath := fs.String("keystore", defaultKeystore, "Keystore whose address is used when -member is empty")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable containing the JWT signing secret")
	issuer := fs.String("issuer", "", "Token issuer claim")
	audience := fs.String("audience", "", "Token audience claim")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var raw [crypto.AddressLength]byte
	if strings.TrimSpace(*member) != "" {
		decoded, err := crypto.DecodeMemberAddress(*member)
		if err != nil {
			return err
		}
		raw = decoded
	} else {
		addr, err := crypto.KeystoreAddress(*keystorePath)
		if err != nil {
			return err
		}
		raw = addr.Raw()
	}

	secret, ok := os.LookupEnv(*secretEnv)
	if !ok || strings.TrimSpace(secret) == "" {
		return fmt.Errorf("environment variable %s is not set", *secretEnv)
	}
	token, err := server.IssueToken(secret, raw, *issuer, *audience, *ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "treasuryctl <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintf(out, "  %s     Generate a key and write it to an encrypted keystore\n", keygenCommand)
	fmt.Fprintf(out, "  %s    Print the member address recorded in a keystore\n", addressCommand)
	fmt.Fprintf(out, "  %s      Issue a bearer token for a member\n", tokenCommand)
}
