// Package wordlist supplies decoy credentials from a downloaded password
// list.
package wordlist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/melih/howls-moving-docker/internal/core/domain"
	"github.com/melih/howls-moving-docker/internal/core/ports"
)

// DefaultUsernames are the login names decoys are seeded with.
var DefaultUsernames = []string{"root", "admin", "user"}

var _ ports.CredentialSource = (*Source)(nil)

// Download fetches url and streams the body to filename.
func Download(ctx context.Context, client *http.Client, url, filename string) error {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &domain.AcquisitionError{Source: url, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &domain.AcquisitionError{Source: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.AcquisitionError{Source: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	// The body goes to a temporary file first, so a broken transfer leaves
	// any earlier list in place.
	tmp, err := os.CreateTemp(filepath.Dir(filename), ".wordlist-*")
	if err != nil {
		return &domain.AcquisitionError{Source: url, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return &domain.AcquisitionError{Source: url, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &domain.AcquisitionError{Source: url, Err: err}
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return &domain.AcquisitionError{Source: url, Err: err}
	}
	return nil
}

// Source draws a random username and a random password from the list.
type Source struct {
	usernames []string
	passwords []string

	mu  sync.Mutex
	rng *rand.Rand
}

// Load reads the password list from filename, one password per line.
// Blank lines are skipped and bytes that are not valid UTF-8 are dropped.
func Load(filename string, usernames []string, rng *rand.Rand) (*Source, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, &domain.AcquisitionError{Source: filename, Err: err}
	}
	return New(bytes.NewReader(data), usernames, rng, filename)
}

// New reads a password list from r. name is only used in errors.
func New(r io.Reader, usernames []string, rng *rand.Rand, name string) (*Source, error) {
	if len(usernames) == 0 {
		usernames = DefaultUsernames
	}

	var passwords []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.ToValidUTF8(scanner.Text(), ""))
		if line != "" {
			passwords = append(passwords, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.AcquisitionError{Source: name, Err: err}
	}
	if len(passwords) == 0 {
		return nil, &domain.AcquisitionError{Source: name, Err: fmt.Errorf("password list is empty")}
	}

	return &Source{usernames: usernames, passwords: passwords, rng: rng}, nil
}

// Credentials returns a random username/password pair.
func (s *Source) Credentials() domain.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Credentials{
		Username: s.usernames[s.rng.Intn(len(s.usernames))],
		Password: s.passwords[s.rng.Intn(len(s.passwords))],
	}
}

// Len is the number of passwords loaded.
func (s *Source) Len() int {
	return len(s.passwords)
}
