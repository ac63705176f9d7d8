package fpg

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// FPGLexer tokenises the text header of an .fpg file. Only the lines before
// "?quit" are lexed; the bitstream that follows is never fed to the lexer.
var FPGLexer = lexer.MustSimple([]lexer.SimpleRule{
	// Interpreter line written by the CASPER toolflow ("#!/bin/kcpfpg")
	{Name: "Shebang", Pattern: `#![^\n]*`},

	// Line structure; the header is line oriented so newlines are significant
	{Name: "EOL", Pattern: `\r?\n`},
	{Name: "Whitespace", Pattern: `[ \t]+`},

	// KATCP-style commands (?register, ?meta, ?uploadbin, ...)
	{Name: "Command", Pattern: `\?[a-zA-Z_][a-zA-Z0-9_-]*`},

	// Everything else: names, hex numbers, metadata values
	{Name: "Word", Pattern: `[^\s]+`},
})
