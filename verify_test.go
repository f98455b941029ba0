// Repository gates that no package-level unit test can enforce:
// every package under pkg/ is reachable from sessiond, every Dataset
// implementation is exercised by its own package tests, and the SQL
// dataset only touches columns the bundled migrations create.
//
// Run: go test -run 'TestPackagesAreImported|TestDatasetsAreExercised|TestSchemaHasDatasetColumns' .
package sqlsession_test

import (
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/txn2/sqlsession"

// datasetMethods are the operations every session.Dataset must have tests for.
var datasetMethods = []string{"Lookup", "Insert", "Update", "Delete", "Count"}

// goFiles parses the .go files under root. With tests set it returns only
// _test.go files, otherwise only non-test files.
func goFiles(t *testing.T, root string, tests bool, mode parser.Mode) map[string]*ast.File {
	t.Helper()
	files := map[string]*ast.File{}
	fset := token.NewFileSet()
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") {
			return nil
		}
		if strings.HasSuffix(path, "_test.go") != tests {
			return nil
		}
		f, err := parser.ParseFile(fset, path, nil, mode)
		if err != nil {
			return err
		}
		files[path] = f
		return nil
	})
	if os.IsNotExist(err) {
		return files
	}
	require.NoError(t, err)
	return files
}

// TestPackagesAreImported fails when a package under pkg/ is never imported
// by non-test code, which means sessiond can never execute it.
func TestPackagesAreImported(t *testing.T) {
	sources := goFiles(t, "pkg", false, parser.ImportsOnly)
	require.NotEmpty(t, sources)

	imported := map[string]bool{}
	for path := range sources {
		imported[modulePath+"/"+filepath.ToSlash(filepath.Dir(path))] = false
	}

	for _, root := range []string{"pkg", "cmd"} {
		for _, f := range goFiles(t, root, false, parser.ImportsOnly) {
			for _, spec := range f.Imports {
				p, err := strconv.Unquote(spec.Path.Value)
				require.NoError(t, err)
				if _, ok := imported[p]; ok {
					imported[p] = true
				}
			}
		}
	}

	for p, ok := range imported {
		assert.True(t, ok, "package %s is not imported by any non-test code; wire it into sessiond or delete it", p)
	}
}

// datasetAssertions finds `var _ Dataset = (*T)(nil)` declarations, keyed by
// package directory.
func datasetAssertions(t *testing.T) map[string][]string {
	t.Helper()
	found := map[string][]string{}
	for path, f := range goFiles(t, "pkg", false, parser.SkipObjectResolution) {
		for _, decl := range f.Decls {
			gen, ok := decl.(*ast.GenDecl)
			if !ok || gen.Tok != token.VAR {
				continue
			}
			for _, spec := range gen.Specs {
				vs := spec.(*ast.ValueSpec)
				if !isDatasetType(vs.Type) || len(vs.Values) != 1 {
					continue
				}
				if name := assertedType(vs.Values[0]); name != "" {
					dir := filepath.Dir(path)
					found[dir] = append(found[dir], name)
				}
			}
		}
	}
	return found
}

func isDatasetType(expr ast.Expr) bool {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name == "Dataset"
	case *ast.SelectorExpr:
		return e.Sel.Name == "Dataset"
	}
	return false
}

// assertedType returns T for the expression (*T)(nil).
func assertedType(expr ast.Expr) string {
	call, ok := expr.(*ast.CallExpr)
	if !ok {
		return ""
	}
	paren, ok := call.Fun.(*ast.ParenExpr)
	if !ok {
		return ""
	}
	star, ok := paren.X.(*ast.StarExpr)
	if !ok {
		return ""
	}
	ident, ok := star.X.(*ast.Ident)
	if !ok {
		return ""
	}
	return ident.Name
}

// calledMethods collects the selector names of every call in the _test.go
// files directly inside dir.
func calledMethods(t *testing.T, dir string) map[string]bool {
	t.Helper()
	called := map[string]bool{}
	for path, f := range goFiles(t, dir, true, parser.SkipObjectResolution) {
		if filepath.Dir(path) != dir {
			continue
		}
		ast.Inspect(f, func(n ast.Node) bool {
			if call, ok := n.(*ast.CallExpr); ok {
				if sel, ok := call.Fun.(*ast.SelectorExpr); ok {
					called[sel.Sel.Name] = true
				}
			}
			return true
		})
	}
	return called
}

// TestDatasetsAreExercised requires every session.Dataset implementation to
// have package tests calling each Dataset operation.
func TestDatasetsAreExercised(t *testing.T) {
	assertions := datasetAssertions(t)
	require.NotEmpty(t, assertions, "expected Dataset compliance assertions under pkg/")

	for dir, types := range assertions {
		called := calledMethods(t, dir)
		for _, m := range datasetMethods {
			assert.True(t, called[m], "%s implements Dataset (%v) but its tests never call %s", dir, types, m)
		}
	}
}

// stringConsts returns the string constants declared in a Go file.
func stringConsts(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), path, nil, parser.SkipObjectResolution)
	require.NoError(t, err)

	consts := map[string]string{}
	for _, decl := range f.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.CONST {
			continue
		}
		for _, spec := range gen.Specs {
			vs := spec.(*ast.ValueSpec)
			for i, name := range vs.Names {
				if i >= len(vs.Values) {
					break
				}
				lit, ok := vs.Values[i].(*ast.BasicLit)
				if !ok || lit.Kind != token.STRING {
					continue
				}
				v, err := strconv.Unquote(lit.Value)
				require.NoError(t, err)
				consts[name.Name] = v
			}
		}
	}
	return consts
}

// createdColumns returns the columns of table as declared by CREATE TABLE in
// the up migrations under dir.
func createdColumns(t *testing.T, dir, table string) []string {
	t.Helper()
	createRe := regexp.MustCompile(`(?is)CREATE TABLE(?:\s+IF NOT EXISTS)?\s+` +
		regexp.QuoteMeta(table) + `\s*\((.*?)\);`)

	ups, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	require.NoError(t, err)

	var columns []string
	for _, up := range ups {
		content, err := os.ReadFile(up) //nolint:gosec // test reads migration files
		require.NoError(t, err)
		for _, m := range createRe.FindAllStringSubmatch(string(content), -1) {
			for _, line := range strings.Split(m[1], "\n") {
				if fields := strings.Fields(line); len(fields) > 0 {
					columns = append(columns, fields[0])
				}
			}
		}
	}
	return columns
}

// TestSchemaHasDatasetColumns checks that the table and columns the SQL
// dataset queries are created by the bundled migrations.
func TestSchemaHasDatasetColumns(t *testing.T) {
	consts := stringConsts(t, filepath.Join("pkg", "session", "postgres", "store.go"))
	table := consts["DefaultTable"]
	require.NotEmpty(t, table, "postgres.DefaultTable not found")

	columns := createdColumns(t, filepath.Join("pkg", "database", "migrate", "migrations"), table)
	require.NotEmpty(t, columns, "no migration creates table %s", table)

	var checked int
	for name, col := range consts {
		if !strings.HasSuffix(name, "Column") {
			continue
		}
		checked++
		assert.True(t, slices.Contains(columns, col),
			"postgres dataset uses column %s.%s (%s) but no migration creates it", table, col, name)
	}
	assert.Positive(t, checked, "no column constants found in the postgres dataset")
}
