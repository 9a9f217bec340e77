package scope

import (
	"bufio"
	"bytes"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"regexp"
	"strconv"
	"strings"
)

type language int

const (
	langNone language = iota
	langGo
	langPython
)

func languageOf(name string) language {
	switch {
	case strings.HasSuffix(name, ".go"):
		return langGo
	case strings.HasSuffix(name, ".py"):
		return langPython
	}
	return langNone
}

// importRef is one import statement, not yet resolved to a file.
type importRef struct {
	lang   language
	module string   // Go import path or dotted Python module, without leading dots
	level  int      // Python relative-import depth; 0 for absolute
	names  []string // Python "from m import a, b" names
}

// maxSourceBytes caps how much of a single file is read.
const maxSourceBytes = 4 << 20

func parseImports(abs, rel string) ([]importRef, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxSourceBytes {
		return nil, fmt.Errorf("file too large (%d bytes)", info.Size())
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	switch languageOf(rel) {
	case langGo:
		return parseGoImports(rel, src)
	case langPython:
		return parsePythonImports(src)
	}
	return nil, nil
}

func parseGoImports(rel string, src []byte) ([]importRef, error) {
	f, err := parser.ParseFile(token.NewFileSet(), rel, src, parser.ImportsOnly)
	if err != nil {
		return nil, err
	}
	refs := make([]importRef, 0, len(f.Imports))
	for _, spec := range f.Imports {
		p, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			continue
		}
		refs = append(refs, importRef{lang: langGo, module: p})
	}
	return refs, nil
}

var (
	pyImportRe = regexp.MustCompile(`^import\s+(.+)$`)
	pyFromRe   = regexp.MustCompile(`^from\s+(\.*)([A-Za-z_][\w.]*)?\s+import\s+(.+)$`)
	pyIdentRe  = regexp.MustCompile(`^[A-Za-z_][\w.]*$`)
)

// parsePythonImports scans top-level and indented import statements.
// Parenthesised and backslash-continued import lists are joined first.
// Anything that does not look like an import line is ignored.
func parsePythonImports(src []byte) ([]importRef, error) {
	if bytes.IndexByte(src, 0) >= 0 {
		return nil, fmt.Errorf("binary content")
	}

	var refs []importRef
	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 64*1024), maxSourceBytes)

	var pending strings.Builder
	open := false
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)

		if open {
			pending.WriteString(" ")
			pending.WriteString(strings.TrimSuffix(line, "\\"))
			if strings.Contains(line, ")") || (!strings.HasSuffix(line, "\\") && !strings.Contains(pending.String(), "(")) {
				open = false
				refs = append(refs, parsePythonLine(pending.String())...)
				pending.Reset()
			}
			continue
		}

		if !strings.HasPrefix(line, "import ") && !strings.HasPrefix(line, "from ") {
			continue
		}
		if (strings.Contains(line, "(") && !strings.Contains(line, ")")) || strings.HasSuffix(line, "\\") {
			open = true
			pending.WriteString(strings.TrimSuffix(line, "\\"))
			continue
		}
		refs = append(refs, parsePythonLine(line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if open {
		refs = append(refs, parsePythonLine(pending.String())...)
	}
	return refs, nil
}

func parsePythonLine(line string) []importRef {
	line = strings.NewReplacer("(", " ", ")", " ").Replace(line)
	line = strings.TrimSpace(line)

	if m := pyFromRe.FindStringSubmatch(line); m != nil {
		ref := importRef{lang: langPython, level: len(m[1]), module: m[2]}
		for _, name := range splitNames(m[3]) {
			if name != "*" {
				ref.names = append(ref.names, name)
			}
		}
		return []importRef{ref}
	}
	if m := pyImportRe.FindStringSubmatch(line); m != nil {
		var refs []importRef
		for _, name := range splitNames(m[1]) {
			if pyIdentRe.MatchString(name) {
				refs = append(refs, importRef{lang: langPython, module: name})
			}
		}
		return refs
	}
	return nil
}

// splitNames splits "a as x, b , c" into [a b c].
func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		out = append(out, fields[0])
	}
	return out
}
