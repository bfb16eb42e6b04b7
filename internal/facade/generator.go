// Package facade generates typed Go facades for platform classes, so test
// code calls platform methods by their own names instead of signatures.
package facade

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"slices"
	"strings"
	"text/template"
	"unicode"

	"go.trai.ch/zerr"

	"shadowbox.dev/pkg/shadowbox/internal/classfile"
	"shadowbox.dev/pkg/shadowbox/internal/model"
)

// RuntimeImport is the package generated facades call into.
const RuntimeImport = "shadowbox.dev/pkg/shadowbox/pkg/shadowbox"

var goTypes = map[string]string{
	model.TypeBoolean: "bool",
	model.TypeByte:    "int8",
	model.TypeChar:    "uint16",
	model.TypeShort:   "int16",
	model.TypeInt:     "int32",
	model.TypeLong:    "int64",
	model.TypeFloat:   "float32",
	model.TypeDouble:  "float64",
	model.StringType:  "string",
	model.ObjectType:  "any",
}

// goType returns the Go type carrying values of the platform type t.
func goType(t string) string {
	if g, ok := goTypes[t]; ok {
		return g
	}

	if strings.HasSuffix(t, "[]") {
		return "any"
	}

	return "*shadowbox.Instance"
}

type param struct {
	Name string
	Type string
}

type method struct {
	GoName    string
	Signature string
	Params    []param
	Returns   string
	Void      bool
}

type class struct {
	Name         string
	GoName       string
	Abstract     bool
	Constructors []method
	Methods      []method
	Statics      []method
}

type file struct {
	Package string
	Import  string
	Classes []class
}

var tmpl = template.Must(template.New("facade").Parse(`// Code generated by shadowbox generate. DO NOT EDIT.

package {{.Package}}

import "{{.Import}}"
{{range $c := .Classes}}
// {{$c.GoName}}Type is the platform type {{$c.Name}}.
const {{$c.GoName}}Type shadowbox.TypeName = "{{$c.Name}}"

// {{$c.GoName}} is a facade over an instance of {{$c.Name}}.
type {{$c.GoName}} struct {
	env  *shadowbox.Env
	inst *shadowbox.Instance
}

// Wrap{{$c.GoName}} returns the facade of inst.
func Wrap{{$c.GoName}}(env *shadowbox.Env, inst *shadowbox.Instance) *{{$c.GoName}} {
	return &{{$c.GoName}}{env: env, inst: inst}
}

// Instance returns the wrapped instance.
func (x *{{$c.GoName}}) Instance() *shadowbox.Instance { return x.inst }
{{range $c.Constructors}}
// {{.GoName}} constructs {{$c.Name}} with {{.Signature}}.
func {{.GoName}}(env *shadowbox.Env{{range .Params}}, {{.Name}} {{.Type}}{{end}}) (*{{$c.GoName}}, error) {
	inst, err := env.Thread().NewWith({{$c.GoName}}Type, "{{.Signature}}"{{range .Params}}, {{.Name}}{{end}})
	if err != nil {
		return nil, err
	}

	return &{{$c.GoName}}{env: env, inst: inst}, nil
}
{{end}}{{range $c.Methods}}
// {{.GoName}} calls {{.Signature}}.
func (x *{{$c.GoName}}) {{.GoName}}({{range $i, $p := .Params}}{{if $i}}, {{end}}{{$p.Name}} {{$p.Type}}{{end}}) {{if .Void}}error{{else}}({{.Returns}}, error){{end}} {
{{- if .Void}}
	_, err := x.env.Thread().InvokeVirtual(x.inst, "{{.Signature}}"{{range .Params}}, {{.Name}}{{end}})

	return err
{{- else}}
	return shadowbox.As[{{.Returns}}](x.env.Thread().InvokeVirtual(x.inst, "{{.Signature}}"{{range .Params}}, {{.Name}}{{end}}))
{{- end}}
}
{{end}}{{range $c.Statics}}
// {{.GoName}} calls static {{.Signature}}.
func {{.GoName}}(env *shadowbox.Env{{range .Params}}, {{.Name}} {{.Type}}{{end}}) {{if .Void}}error{{else}}({{.Returns}}, error){{end}} {
{{- if .Void}}
	_, err := env.Thread().InvokeStatic({{$c.GoName}}Type, "{{.Signature}}"{{range .Params}}, {{.Name}}{{end}})

	return err
{{- else}}
	return shadowbox.As[{{.Returns}}](env.Thread().InvokeStatic({{$c.GoName}}Type, "{{.Signature}}"{{range .Params}}, {{.Name}}{{end}}))
{{- end}}
}
{{end}}{{end}}`))

// Generate returns the gofmt'ed source of package pkg holding one facade
// per definition. Definitions may be original or rewritten.
func Generate(pkg string, defs []*classfile.Definition) ([]byte, error) {
	if !token.IsIdentifier(pkg) {
		return nil, zerr.With(zerr.Wrap(model.ErrConfiguration, "invalid package name"), "package", pkg)
	}

	sorted := slices.Clone(defs)
	slices.SortFunc(sorted, func(x, y *classfile.Definition) int { return strings.Compare(string(x.Name), string(y.Name)) })

	names := goNames(sorted)
	data := file{Package: pkg, Import: RuntimeImport}

	for _, def := range sorted {
		data.Classes = append(data.Classes, buildClass(def, names[def.Name]))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render facades: %w", err)
	}

	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to format facades: %w", err)
	}

	if err := verify(out); err != nil {
		return nil, err
	}

	return out, nil
}

func buildClass(def *classfile.Definition, goName string) class {
	c := class{Name: string(def.Name), GoName: goName, Abstract: def.Abstract}
	used := map[string]int{"Instance": 1}

	for _, m := range def.Methods {
		if m.Private || classfile.IsAlias(m.Name) || m.Name == model.ClassInitName {
			continue
		}

		gm := method{
			Signature: string(m.Signature()),
			Returns:   goType(m.ReturnType()),
			Void:      m.ReturnType() == model.VoidType,
		}

		for i, p := range m.Params {
			gm.Params = append(gm.Params, param{Name: fmt.Sprintf("a%d", i), Type: goType(p)})
		}

		switch {
		case m.Name == model.ConstructorName:
			if def.Abstract {
				continue
			}

			gm.GoName = unique(used, "New"+goName)
			c.Constructors = append(c.Constructors, gm)
		case m.Static:
			gm.GoName = unique(used, goName+"_"+exported(m.Name))
			c.Statics = append(c.Statics, gm)
		default:
			gm.GoName = unique(used, exported(m.Name))
			c.Methods = append(c.Methods, gm)
		}
	}

	return c
}

// unique returns name, or name with a numeric suffix for overloads.
func unique(used map[string]int, name string) string {
	used[name]++
	if n := used[name]; n > 1 {
		return fmt.Sprintf("%s%d", name, n)
	}

	return name
}

// goNames assigns a Go identifier to every class. Simple names that occur
// in several packages are prefixed with their last package segment.
func goNames(defs []*classfile.Definition) map[model.TypeName]string {
	count := map[string]int{}
	for _, d := range defs {
		count[ident(d.Name.Simple())]++
	}

	out := make(map[model.TypeName]string, len(defs))

	for _, d := range defs {
		name := ident(d.Name.Simple())
		if count[name] > 1 {
			pkg := d.Name.Package()
			name = exported(pkg[strings.LastIndexByte(pkg, '.')+1:]) + name
		}

		out[d.Name] = name
	}

	return out
}

func ident(simple string) string {
	return exported(strings.ReplaceAll(simple, "$", "_"))
}

func exported(s string) string {
	if s == "" {
		return s
	}

	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])

	return string(r)
}

// verify parses the generated source and rejects duplicate top-level
// declarations, which format.Source accepts.
func verify(src []byte) error {
	f, err := parser.ParseFile(token.NewFileSet(), "facades.go", src, parser.SkipObjectResolution)
	if err != nil {
		return fmt.Errorf("generated facades do not parse: %w", err)
	}

	seen := map[string]bool{}

	var dup string

	record := func(name string) {
		if seen[name] && dup == "" {
			dup = name
		}

		seen[name] = true
	}

	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			name := d.Name.Name
			if d.Recv != nil && len(d.Recv.List) == 1 {
				if star, ok := d.Recv.List[0].Type.(*ast.StarExpr); ok {
					if id, ok := star.X.(*ast.Ident); ok {
						name = id.Name + "." + name
					}
				}
			}

			record(name)
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					record(s.Name.Name)
				case *ast.ValueSpec:
					for _, n := range s.Names {
						record(n.Name)
					}
				}
			}
		}
	}

	if dup != "" {
		return zerr.With(zerr.Wrap(model.ErrConfiguration, "generated facades declare a name twice"), "name", dup)
	}

	return nil
}
