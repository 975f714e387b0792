package passphrase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeSource(env map[string]string, prompt func(string) ([]byte, error)) *Source {
	s := NewSource("PASS", "admin")
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	s.prompt = prompt
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	prompted := false
	s := fakeSource(map[string]string{"PASS": " hunter2 "}, func(string) ([]byte, error) {
		prompted = true
		return nil, nil
	})
	got, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, " hunter2 ", got)
	require.False(t, prompted)
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	s := fakeSource(map[string]string{"PASS": "  "}, nil)
	_, err := s.Get()
	require.ErrorContains(t, err, "PASS is set but empty")
}

func TestSourcePromptsOnceAndCaches(t *testing.T) {
	calls := 0
	s := fakeSource(nil, func(label string) ([]byte, error) {
		calls++
		require.Equal(t, "admin", label)
		return []byte("secret"), nil
	})
	for i := 0; i < 2; i++ {
		got, err := s.Get()
		require.NoError(t, err)
		require.Equal(t, "secret", got)
	}
	require.Equal(t, 1, calls)
}

func TestSourceWithoutTerminal(t *testing.T) {
	s := fakeSource(nil, func(string) ([]byte, error) { return nil, errNoTerminal })
	_, err := s.Get()
	require.ErrorContains(t, err, "set PASS or run interactively")

	s = fakeSource(nil, func(string) ([]byte, error) { return nil, errors.New("tty gone") })
	_, err = s.Get()
	require.ErrorContains(t, err, "tty gone")

	s = fakeSource(nil, func(string) ([]byte, error) { return []byte(" "), nil })
	_, err = s.Get()
	require.ErrorContains(t, err, "cannot be empty")
}
