package sandbox

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
)

// AllowedImports is the complete import surface a snippet may use: the two
// capability modules plus pure computation helpers. Identifiers must never
// be paraphrased here: the prompt embeds this list verbatim.
var AllowedImports = []string{"sensors", "actuators", "fmt", "strings", "strconv", "math", "sort"}

// deniedSymbols blocks process, file, network, and reflection access even
// when spelled without an import (the interpreter would reject them anyway;
// static rejection happens before anything runs).
var deniedSymbols = map[string]struct{}{
	"os": {}, "exec": {}, "syscall": {}, "net": {}, "http": {},
	"unsafe": {}, "reflect": {}, "runtime": {}, "plugin": {},
	"debug": {}, "ioutil": {}, "cgo": {}, "rpc": {}, "unix": {},
}

// Validator statically rejects snippets before execution.
type Validator struct {
	allowed map[string]struct{}
}

// NewValidator builds a validator over the default allow-list.
func NewValidator() *Validator {
	allowed := make(map[string]struct{}, len(AllowedImports))
	for _, imp := range AllowedImports {
		allowed[imp] = struct{}{}
	}
	return &Validator{allowed: allowed}
}

// Validate parses the snippet and walks the AST. It returns nil only when
// every import is allow-listed and no denied symbol, goroutine, or channel
// construct appears. The first violation wins.
func (v *Validator) Validate(source string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", source, 0)
	if err != nil {
		return &ValidationError{Reason: SyntaxInvalid, Detail: err.Error()}
	}

	var verr *ValidationError
	ast.Inspect(file, func(n ast.Node) bool {
		if verr != nil {
			return false
		}
		switch node := n.(type) {
		case *ast.ImportSpec:
			path, err := strconv.Unquote(node.Path.Value)
			if err != nil {
				path = strings.Trim(node.Path.Value, `"`)
			}
			if _, ok := v.allowed[path]; !ok {
				verr = &ValidationError{Reason: ImportDenied, Symbol: path}
				return false
			}
		case *ast.SelectorExpr:
			if ident, ok := node.X.(*ast.Ident); ok {
				if _, denied := deniedSymbols[ident.Name]; denied {
					verr = &ValidationError{Reason: CallDenied, Symbol: ident.Name + "." + node.Sel.Name}
					return false
				}
			}
		case *ast.Ident:
			if _, denied := deniedSymbols[node.Name]; denied {
				verr = &ValidationError{Reason: CallDenied, Symbol: node.Name}
				return false
			}
		case *ast.GoStmt:
			verr = &ValidationError{Reason: CallDenied, Symbol: "go statement"}
			return false
		case *ast.SelectStmt:
			verr = &ValidationError{Reason: CallDenied, Symbol: "select statement"}
			return false
		case *ast.ChanType:
			verr = &ValidationError{Reason: CallDenied, Symbol: "channel type"}
			return false
		case *ast.SendStmt:
			verr = &ValidationError{Reason: CallDenied, Symbol: "channel send"}
			return false
		}
		return true
	})
	if verr != nil {
		return verr
	}
	if file.Name == nil || file.Name.Name != "main" {
		return &ValidationError{Reason: SyntaxInvalid, Detail: fmt.Sprintf("snippet package must be main, got %q", pkgName(file))}
	}
	return nil
}

func pkgName(file *ast.File) string {
	if file.Name == nil {
		return ""
	}
	return file.Name.Name
}
