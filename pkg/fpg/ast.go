package fpg

// header is the grammar root for the text part of an .fpg file.
type header struct {
	Shebang string        `( @Shebang EOL )?`
	Lines   []*headerLine `( @@ | EOL )*`
}

// headerLine is one command line of the header.
type headerLine struct {
	Register *registerLine `  @@`
	Meta     *metaLine     `| @@`
	Upload   *uploadLine   `| @@`
	Other    *otherLine    `| @@`
}

// registerLine: ?register <name> <offset> <size>
type registerLine struct {
	Name   string `"?register" @Word`
	Offset string `@Word`
	Size   string `@Word EOL`
}

// metaLine: ?meta <device> <type> <param> <value...>
type metaLine struct {
	Device string   `"?meta" @Word`
	Type   string   `@Word`
	Param  string   `@Word`
	Value  []string `@( Word | Command )* EOL`
}

// uploadLine: ?uploadbin
type uploadLine struct {
	Command string `@"?uploadbin" EOL`
}

// otherLine keeps the parser tolerant of commands it has no use for.
type otherLine struct {
	Command string   `@Command`
	Args    []string `@( Word | Command )* EOL`
}
