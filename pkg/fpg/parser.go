package fpg

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/alecthomas/participle/v2"
)

// ErrNoQuit is returned when the header is not terminated by a ?quit line.
var ErrNoQuit = errors.New("fpg: header has no ?quit line")

// Parser parses .fpg images.
type Parser struct {
	parser *participle.Parser[header]
}

// NewParser creates a new FPG parser instance
func NewParser() (*Parser, error) {
	parser, err := participle.Build[header](
		participle.Lexer(FPGLexer),
		participle.Elide("Whitespace"),
		participle.UseLookahead(2),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build parser: %w", err)
	}
	return &Parser{parser: parser}, nil
}

var defaultParser = sync.OnceValues(NewParser)

// Parse reads a whole .fpg image with the default parser.
func Parse(r io.Reader) (*Image, error) {
	p, err := defaultParser()
	if err != nil {
		return nil, err
	}
	return p.Parse(r)
}

// ParseFile parses the .fpg image at path with the default parser.
func ParseFile(path string) (*Image, error) {
	p, err := defaultParser()
	if err != nil {
		return nil, err
	}
	return p.ParseFile(path)
}

// Parse reads a whole .fpg image.
func (p *Parser) Parse(r io.Reader) (*Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fpg: read: %w", err)
	}
	return p.ParseBytes(raw)
}

// ParseFile parses the .fpg image at path.
func (p *Parser) ParseFile(path string) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fpg: %w", err)
	}
	img, err := p.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	img.Path = path
	return img, nil
}

// ParseBytes parses an in-memory .fpg image. The returned Image keeps raw.
func (p *Parser) ParseBytes(raw []byte) (*Image, error) {
	text, body, err := splitHeader(raw)
	if err != nil {
		return nil, err
	}

	hdr, err := p.parser.ParseBytes("", text)
	if err != nil {
		return nil, fmt.Errorf("fpg: parse error: %w", err)
	}

	img := &Image{Raw: raw, Bitstream: body}
	seen := make(map[string]bool)
	for _, line := range hdr.Lines {
		switch {
		case line.Register != nil:
			reg, err := line.Register.decode()
			if err != nil {
				return nil, err
			}
			if seen[reg.Name] {
				return nil, fmt.Errorf("fpg: duplicate register %q", reg.Name)
			}
			seen[reg.Name] = true
			img.Registers = append(img.Registers, reg)
		case line.Meta != nil:
			img.Meta = append(img.Meta, Meta{
				Device: line.Meta.Device,
				Type:   line.Meta.Type,
				Param:  line.Meta.Param,
				Value:  strings.Join(line.Meta.Value, " "),
			})
		case line.Upload != nil:
			img.UploadBin = true
		}
	}
	return img, nil
}

// splitHeader returns the header text (through the line before ?quit) and
// the bytes after the ?quit line.
func splitHeader(raw []byte) (text, body []byte, err error) {
	rest := raw
	for len(rest) > 0 {
		line := rest
		next := len(rest)
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i]
			next = i + 1
		}
		if string(bytes.TrimSpace(line)) == "?quit" {
			text = raw[:len(raw)-len(rest)]
			body = rest[next:]
			return text, body, nil
		}
		rest = rest[next:]
	}
	return nil, nil, ErrNoQuit
}

func (r *registerLine) decode() (Register, error) {
	offset, err := strconv.ParseUint(r.Offset, 0, 32)
	if err != nil {
		return Register{}, fmt.Errorf("fpg: register %q: bad offset %q: %w", r.Name, r.Offset, err)
	}
	size, err := strconv.ParseUint(r.Size, 0, 32)
	if err != nil {
		return Register{}, fmt.Errorf("fpg: register %q: bad size %q: %w", r.Name, r.Size, err)
	}
	return Register{Name: r.Name, Offset: uint32(offset), Size: uint32(size)}, nil
}
