package automata

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// litValue converts a literal in an action call to a reflect value.
func litValue(lit *ast.BasicLit) reflect.Value {
	var i interface{}
	switch lit.Kind {
	case token.STRING:
		i = strings.Trim(lit.Value, "\"")
	case token.INT:
		i, _ = strconv.ParseInt(lit.Value, 10, 32)
	case token.FLOAT:
		i, _ = strconv.ParseFloat(lit.Value, 64)
	}
	return reflect.ValueOf(i)
}

// DynamicCall invokes the method named by call on obj, eg `Alert("hi", "telegram")`.
// Arguments may be strings, ints, floats or booleans.
func DynamicCall(obj interface{}, call string) (err error) {
	expr, _ := parser.ParseExpr(call)
	ce, ok := expr.(*ast.CallExpr)
	if !ok {
		return fmt.Errorf("%s: not a call", call)
	}

	method := reflect.ValueOf(obj).MethodByName(fmt.Sprint(ce.Fun))
	if !method.IsValid() {
		return fmt.Errorf("%s: no such method", call)
	}

	args := make([]reflect.Value, 0, len(ce.Args))
	for _, arg := range ce.Args {
		switch t := arg.(type) {
		case *ast.BasicLit:
			args = append(args, litValue(t))
		case *ast.Ident:
			switch t.Name {
			case "true":
				args = append(args, reflect.ValueOf(true))
			case "false":
				args = append(args, reflect.ValueOf(false))
			default:
				return fmt.Errorf("%s: argument %s not understood", call, t.Name)
			}
		default:
			return fmt.Errorf("%s: argument %v not understood", call, t)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %v", call, r)
		}
	}()
	method.Call(args)
	return
}

var reSub = regexp.MustCompile(`\$(\w+)`)

// Substitute replaces $name placeholders from vals, leaving unknown ones alone.
func Substitute(s string, vals map[string]string) string {
	return reSub.ReplaceAllStringFunc(s, func(k string) string {
		if v, ok := vals[k[1:]]; ok {
			return v
		}
		return k
	})
}
