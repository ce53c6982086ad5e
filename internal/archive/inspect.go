package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/stacksnap/snapferry/internal/domain"
)

type Member struct {
	Name  string
	IsDir bool
	Size  int64
}

// Contents summarises an archive without extracting it.
type Contents struct {
	Members []Member
	Files   int
	Bytes   int64
}

// Inspect reads a whole gzip tar stream, checking both layers for corruption.
func Inspect(r io.Reader) (*Contents, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, domain.Malformed("inspect", fmt.Errorf("invalid gzip stream: %w", err))
	}
	defer gz.Close()

	c := &Contents{}
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, domain.Malformed("inspect", fmt.Errorf("corrupted tar: %w", err))
		}
		n, err := io.Copy(io.Discard, tr)
		if err != nil {
			return nil, domain.Malformed("inspect", fmt.Errorf("truncated member %s: %w", header.Name, err))
		}
		m := Member{
			Name:  strings.TrimSuffix(header.Name, "/"),
			IsDir: header.Typeflag == tar.TypeDir,
			Size:  n,
		}
		if header.Typeflag == tar.TypeReg {
			c.Files++
			c.Bytes += n
		}
		c.Members = append(c.Members, m)
	}
	return c, nil
}

// TopLevel returns the distinct first path segments, sorted, with whether
// each one is a directory.
func (c *Contents) TopLevel() []Member {
	seen := map[string]*Member{}
	for _, m := range c.Members {
		clean := path.Clean(m.Name)
		first, rest, nested := strings.Cut(clean, "/")
		if first == "." || first == "" {
			continue
		}
		tm, ok := seen[first]
		if !ok {
			tm = &Member{Name: first}
			seen[first] = tm
		}
		if nested && rest != "" {
			tm.IsDir = true
		} else if !nested {
			tm.IsDir = tm.IsDir || m.IsDir
			tm.Size = m.Size
		}
	}
	out := make([]Member, 0, len(seen))
	for _, m := range seen {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
