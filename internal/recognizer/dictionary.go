package recognizer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Charset maps model class indices to text. Class 0 is the CTC blank, so
// class i decodes to Tokens[i-1].
type Charset struct {
	Tokens []string
}

// NewCharset builds a charset from tokens.
func NewCharset(tokens []string) *Charset {
	return &Charset{Tokens: append([]string(nil), tokens...)}
}

// LoadCharset reads a dictionary with one token per line. A trailing space
// token is appended when useSpace is set, matching models trained with a
// space class.
func LoadCharset(path string, useSpace bool) (*Charset, error) {
	if path == "" {
		return nil, errors.New("dictionary path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: dictionary path comes from the model resolver
	if err != nil {
		return nil, fmt.Errorf("failed to open dictionary: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("error closing dictionary file", "path", path, "error", err)
		}
	}()
	cs, err := ReadCharset(f, useSpace)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cs, nil
}

// ReadCharset parses dictionary lines from r. Line endings and a leading BOM
// are stripped; empty lines are skipped.
func ReadCharset(r io.Reader, useSpace bool) (*Charset, error) {
	scanner := bufio.NewScanner(r)
	tokens := make([]string, 0, 512)
	first := true
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		if line == "" {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading dictionary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, errors.New("dictionary is empty")
	}
	if useSpace {
		tokens = append(tokens, " ")
	}
	return &Charset{Tokens: tokens}, nil
}

// Size returns the number of tokens.
func (c *Charset) Size() int { return len(c.Tokens) }

// Token returns the text for a model class index. Out-of-range indices and
// the blank yield false.
func (c *Charset) Token(class int) (string, bool) {
	i := class - 1
	if i < 0 || i >= len(c.Tokens) {
		return "", false
	}
	return c.Tokens[i], true
}

// Decode concatenates the tokens of the given class indices, skipping
// indices outside the dictionary.
func (c *Charset) Decode(classes []int) string {
	var b strings.Builder
	for _, cl := range classes {
		if tok, ok := c.Token(cl); ok {
			b.WriteString(tok)
		}
	}
	return b.String()
}
