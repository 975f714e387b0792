package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// DefaultEnv names the variable checked before prompting.
const DefaultEnv = "TREASURY_KEYSTORE_PASSPHRASE"

// Source resolves a keystore passphrase once, from the environment or an
// interactive prompt, and caches the result.
type Source struct {
	envVar string
	label  string

	lookupEnv func(string) (string, bool)
	prompt    func(label string) ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource returns a source that reads envVar before prompting for the
// keystore described by label.
func NewSource(envVar, label string) *Source {
	if strings.TrimSpace(label) == "" {
		label = "keystore"
	}
	return &Source{
		envVar:    strings.TrimSpace(envVar),
		label:     label,
		lookupEnv: os.LookupEnv,
		prompt:    terminalPrompt(os.Stdin, os.Stderr),
	}
}

func terminalPrompt(in *os.File, out io.Writer) func(string) ([]byte, error) {
	return func(label string) ([]byte, error) {
		if !term.IsTerminal(int(in.Fd())) {
			return nil, errNoTerminal
		}
		fmt.Fprintf(out, "Enter %s passphrase: ", label)
		secret, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		return secret, err
	}
}

var errNoTerminal = errors.New("no terminal available")

// Get returns the passphrase. Whitespace-only values are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}

		secret, err := s.prompt(s.label)
		if errors.Is(err, errNoTerminal) {
			if s.envVar != "" {
				s.err = fmt.Errorf("%s passphrase required; set %s or run interactively", s.label, s.envVar)
			} else {
				s.err = fmt.Errorf("%s passphrase required and no terminal available", s.label)
			}
			return
		}
		if err != nil {
			s.err = fmt.Errorf("read passphrase: %w", err)
			return
		}
		if strings.TrimSpace(string(secret)) == "" {
			s.err = fmt.Errorf("%s passphrase cannot be empty", s.label)
			return
		}
		s.value = string(secret)
	})

	return s.value, s.err
}
